package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tilsynsapp/internal/app"
	"tilsynsapp/internal/auth"
	"tilsynsapp/internal/models"
	"tilsynsapp/internal/routes"

	"go.uber.org/zap"
)

const sessionKeyPurpose = "session-jwt"

// cmdServe runs the companion API until interrupted. The session token needed
// for /api/v1 is printed on start.
func cmdServe(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	logr := a.Logr

	secret, err := a.Store.DeriveKey(sessionKeyPurpose)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}
	issuer, err := a.Store.InstallationID()
	if err != nil {
		return fmt.Errorf("installation id: %w", err)
	}
	jwtMgr, err := auth.NewJWTManager(secret, issuer, a.Cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("init jwt manager: %w", err)
	}

	subject := "local"
	if email, err := a.Store.Email(); err == nil && email != "" {
		subject = email
	}
	session, err := jwtMgr.Issue(subject)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session token (udløber %s):\n%s\n", session.ExpiresAt.Local().Format("02-01-2006 15:04"), session.Token)

	if a.Auth.State().Step == models.LoginLoggedIn {
		go func() {
			if err := a.Rows.PreloadAndMaybeRefresh(ctx, false); err != nil {
				logr.Warn("initial preload failed", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:         ":" + a.Cfg.Port,
		Handler:      routes.NewRouter(a, jwtMgr),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.Cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server started", zap.String("port", a.Cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logr.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logr.Info("server exited gracefully")
	return nil
}
