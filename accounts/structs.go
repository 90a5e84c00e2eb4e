package accounts

import (
	"sync"

	"github.com/zelenin/go-tdlib/client"
)

const (
	historyPageSize = 100
	historyRetries  = 3
	logMaxFileSize  = 10485760
)

// TdInstance is an authorized TDLib client for one account.
type TdInstance struct {
	AccountName         string
	TdlibDbDirectory    string
	TdlibFilesDirectory string
	TdlibClient         *client.Client
}

// Prompter asks the operator for a login code or password.
type Prompter interface {
	Ask(prompt string) (string, error)
}

type Options struct {
	DataDir string
	// CredentialsFile is read again every time the pool opens an instance,
	// so edits apply without a restart.
	CredentialsFile string
	// Prompter answers the code and password challenges. Without it an
	// unauthorized session fails with forwarder.ErrLoginRequired.
	Prompter  Prompter
	ChatLimit int
}

// Pool shares one TdInstance per session directory: TDLib locks its
// database, so every Session of the process goes through the same instance.
type Pool struct {
	options Options

	mu       sync.Mutex
	instance *TdInstance
	refs     int
}

// Session is a reference-counted handle on the pool's instance.
type Session struct {
	pool *Pool

	mu       sync.Mutex
	instance *TdInstance
}
