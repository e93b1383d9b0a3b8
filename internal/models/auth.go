package models

// LoginStep names the stage of the magic-link login flow.
type LoginStep string

const (
	LoginInput    LoginStep = "input"
	LoginWaiting  LoginStep = "waiting"
	LoginLoggedIn LoginStep = "logged_in"
)

// LoginState is the login state machine value. Email is set only while
// waiting for the link to be approved.
type LoginState struct {
	Step  LoginStep `json:"step"`
	Email string    `json:"email,omitempty"`
}

func InputState() LoginState { return LoginState{Step: LoginInput} }
func WaitingState(email string) LoginState { return LoginState{Step: LoginWaiting, Email: email} }
func LoggedInState() LoginState { return LoginState{Step: LoginLoggedIn} }

// Polling messages shown while waiting for approval.
const (
	PollWaitingForToken = "Venter på token..."
	PollAwaiting        = "Afventer godkendelse ..."
	PollApproved        = "Godkendt! Logger ind..."
)

// VersionInfo is the subset of the version endpoint the client acts on.
type VersionInfo struct {
	MinVersionCode int            `json:"min_version_code"`
	Message        string         `json:"message"`
	Raw            map[string]any `json:"-"`
}
