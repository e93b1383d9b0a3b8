package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"tilsynsapp/internal/app"
	"tilsynsapp/internal/geo"
	"tilsynsapp/internal/models"
	"tilsynsapp/internal/remote"
	"tilsynsapp/internal/services"
	"tilsynsapp/internal/utils"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func cmdLogin(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("login", out)
	email := fs.String("email", "", "e-mailadresse der skal modtage login-linket")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if a.Auth.State().Step == models.LoginLoggedIn {
		fmt.Fprintln(out, "Allerede logget ind")
		return nil
	}

	if err := a.Auth.SendLoginEmail(ctx, *email); err != nil {
		return err
	}
	fmt.Fprintf(out, "Login-link sendt til %s. Åbn linket i din mail.\n", strings.TrimSpace(*email))

	last := ""
	err := a.Auth.WaitForLogin(ctx, a.Cfg.PollInterval, func(msg string) {
		if msg != last {
			fmt.Fprintln(out, msg)
			last = msg
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, services.LoadingMessage)
	if err := a.Rows.PreloadAndMaybeRefresh(ctx, true); err != nil {
		a.Logr.Warn("initial refresh failed", zap.Error(err))
	}
	printCounts(out, a.Rows.State())
	return nil
}

func cmdLogout(_ context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Auth.ResetLogin(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logget ud")
	return nil
}

func cmdStatus(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	st := a.Auth.State()
	switch st.Step {
	case models.LoginLoggedIn:
		email, _ := a.Store.Email()
		if email == "" {
			email = "-"
		}
		fmt.Fprintf(out, "Logget ind (%s)\n", email)
	default:
		fmt.Fprintln(out, "Ikke logget ind")
		return nil
	}

	if err := preload(ctx, a); err != nil {
		return err
	}
	printCounts(out, a.Rows.State())
	return nil
}

func cmdRefresh(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Auth.RequireLoggedIn(); err != nil {
		return err
	}
	fmt.Fprintln(out, services.LoadingMessage)
	err := a.Rows.PreloadAndMaybeRefresh(ctx, true)
	printCounts(out, a.Rows.State())
	return err
}

func cmdList(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("list", out)
	status := fs.String("status", string(models.StatusNy), "fakturastatus: Ny, Til fakturering, Fakturer ikke, Faktureret")
	query := fs.String("q", "", "søg i adresse og firmanavn")
	lat := fs.String("lat", "", "breddegrad for afstandssortering")
	lon := fs.String("lon", "", "længdegrad for afstandssortering")
	asJSON := fs.Bool("json", false, "skriv rækkerne som JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.Auth.RequireLoggedIn(); err != nil {
		return err
	}
	st, ok := models.ParseFakturaStatus(*status)
	if !ok {
		return fmt.Errorf("ukendt status %q", *status)
	}
	loc, err := geo.ParseLocation(*lat, *lon)
	if err != nil {
		return err
	}

	if err := preload(ctx, a); err != nil {
		return err
	}
	a.Rows.SetActiveFilter(st)
	rows := a.Rows.Rows(*query, loc)

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADRESSE\tFIRMA\tSLUTDATO\tM2\tAFSTAND")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			deref(r.Adresse),
			deref(r.FirmaNavn),
			utils.FormatListDate(r.Slutdato),
			orDash(utils.FormatKvadratmeter(r.Kvadratmeter)),
			formatDistance(r.DistanceFromCurrent),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d sager (%s)\n", len(rows), st)
	return nil
}

func cmdShow(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("show", out)
	id := fs.String("id", "", "sagens id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.Auth.RequireLoggedIn(); err != nil {
		return err
	}
	if err := preload(ctx, a); err != nil {
		return err
	}

	row, err := a.Rows.FindRow(*id)
	if err != nil {
		return err
	}
	printRow(out, services.NewEditSession(row))
	return nil
}

func cmdEdit(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("edit", out)
	id := fs.String("id", "", "sagens id")
	kvm := fs.String("kvm", "", "kvadratmeter (brug . eller ,)")
	typ := fs.String("type", "", "tilladelsestype")
	slut := fs.String("slut", "", "slutdato (dd-mm-åååå)")
	status := fs.String("status", "", "ny fakturastatus; udelades for at gemme en kladde")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := a.Auth.RequireLoggedIn(); err != nil {
		return err
	}
	if err := preload(ctx, a); err != nil {
		return err
	}
	row, err := a.Rows.FindRow(*id)
	if err != nil {
		return err
	}

	edit := services.NewEditSession(row)
	if set["kvm"] {
		if err := edit.SetKvadratmeter(*kvm); err != nil {
			return err
		}
		if !edit.KvadratmeterValid() {
			return errors.New(services.MsgInvalidKvadratmeter)
		}
	}
	if set["type"] {
		if err := edit.SetTilladelsestype(*typ); err != nil {
			return err
		}
	}
	if set["slut"] {
		if err := edit.SetSlutdato(*slut); err != nil {
			return err
		}
		if !edit.DateValid() {
			return fmt.Errorf("ugyldig slutdato %q, brug dd-mm-åååå", *slut)
		}
	}

	var newStatus *models.FakturaStatus
	if set["status"] {
		st, ok := models.ParseFakturaStatus(*status)
		if !ok {
			return fmt.Errorf("ukendt status %q", *status)
		}
		newStatus = &st
	}

	action, err := edit.ActionFor(newStatus)
	if err != nil {
		return fmt.Errorf("%w: %s", err, edit.Status())
	}
	if err := a.Rows.UpdateRow(ctx, edit.Build(action), action.NewStatus); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: sag %s gemt\n", action.Label, row.ID)
	return nil
}

func cmdRegelRytteren(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	def := models.DefaultRegelRytterenSettings()
	fs := newFlagSet("regelrytteren", out)
	bikes := fs.Int("bikes", def.Bikes, "antal cykler (0-10)")
	cars := fs.Int("cars", def.Cars, "antal biler (0-10)")
	vejman := fs.Bool("vejman", def.Vejman, "medtag tilladelser")
	henstillinger := fs.Bool("henstillinger", def.Henstillinger, "medtag henstillinger")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.Auth.RequireLoggedIn(); err != nil {
		return err
	}

	a.RegelRytteren.SetSettings(models.RegelRytterenSettings{
		Bikes:         *bikes,
		Cars:          *cars,
		Vejman:        *vejman,
		Henstillinger: *henstillinger,
	})
	res := a.RegelRytteren.Submit(ctx)
	if !res.Success {
		return errors.New(res.Message)
	}
	fmt.Fprintln(out, res.Message)
	return nil
}

func cmdVersion(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	check := a.Version.Check(ctx)
	fmt.Fprintf(out, "versionskode %d\n", check.VersionCode)
	if check.MinVersionCode > 0 {
		fmt.Fprintf(out, "mindste versionskode på serveren %d\n", check.MinVersionCode)
	}
	if check.UpdateRequired {
		fmt.Fprintln(out, check.Message)
	}
	return nil
}

// preload refreshes stale rows. A failed fetch falls back to the cache.
func preload(ctx context.Context, a *app.App) error {
	err := a.Rows.PreloadAndMaybeRefresh(ctx, false)
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrNoAPIKey) || errors.Is(err, context.Canceled) {
		return err
	}
	a.Logr.Warn("refresh failed, using cached rows", zap.Error(err))
	return nil
}

func printCounts(out io.Writer, st services.VejmanState) {
	statuses := make([]string, 0, len(st.Counts))
	for s := range st.Counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(out, "%-16s %d\n", s, st.Counts[s])
	}
	if !st.LastRefresh.IsZero() {
		fmt.Fprintf(out, "Sidst opdateret %s\n", st.LastRefresh.Local().Format("02-01-2006 15:04"))
	}
}

func printRow(out io.Writer, e *services.EditSession) {
	r := e.Row()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", r.ID)
	fmt.Fprintf(tw, "Status\t%s\n", e.Status())
	fmt.Fprintf(tw, "Adresse\t%s\n", deref(r.Adresse))
	fmt.Fprintf(tw, "Firma\t%s\n", deref(r.FirmaNavn))
	if r.CVR != nil {
		fmt.Fprintf(tw, "CVR\t%d\n", *r.CVR)
	}
	fmt.Fprintf(tw, "Henstilling\t%s\n", deref(r.HenstillingID))
	fmt.Fprintf(tw, "Forseelse\t%s\n", deref(r.Forseelse))
	fmt.Fprintf(tw, "Tilladelsestype\t%s\n", orDash(e.TilladelsestypeText()))
	fmt.Fprintf(tw, "Kvadratmeter\t%s\n", orDash(e.KvadratmeterText()))
	fmt.Fprintf(tw, "Startdato\t%s\n", utils.FormatListDate(r.Startdato))
	fmt.Fprintf(tw, "Slutdato\t%s\n", orDash(e.SlutdatoText()))
	_ = tw.Flush()

	actions := e.Actions()
	if len(actions) == 0 {
		return
	}
	fmt.Fprintln(out, "\nHandlinger:")
	for _, act := range actions {
		if act.NewStatus == nil {
			fmt.Fprintf(out, "  %s\n", act.Label)
			continue
		}
		fmt.Fprintf(out, "  %s (-status %q)\n", act.Label, string(*act.NewStatus))
	}
}

func formatDistance(d *float32) string {
	if d == nil || *d == geo.Unknown {
		return "-"
	}
	if *d >= 1000 {
		return fmt.Sprintf("%.1f km", *d/1000)
	}
	return fmt.Sprintf("%d m", int(math.Round(float64(*d))))
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
