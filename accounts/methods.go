package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/comerc/tgrelay/account"
	"github.com/comerc/tgrelay/forwarder"
	"github.com/rs/zerolog/log"
	"github.com/zelenin/go-tdlib/client"
)

var errNotConnected = errors.New("session is not connected")

func NewPool(options Options) *Pool {
	if options.ChatLimit <= 0 {
		options.ChatLimit = 1000
	}
	if options.CredentialsFile == "" {
		options.CredentialsFile = account.CredentialsFile
	}
	return &Pool{options: options}
}

// Credentials reads the credentials file as it is now.
func (p *Pool) Credentials() account.Credentials {
	return account.ReadCredentials(p.options.CredentialsFile)
}

// Session returns a new handle; it opens the instance on Connect.
func (p *Pool) Session() forwarder.Client {
	return &Session{pool: p}
}

// Acquire returns the shared instance, opening and authorizing it first
// when nobody holds it.
func (p *Pool) Acquire(ctx context.Context) (*TdInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance == nil {
		instance, err := openInstance(ctx, p.Credentials(), p.options)
		if err != nil {
			return nil, err
		}
		p.instance = instance
	}
	p.refs++
	return p.instance, nil
}

// Release stops the instance when the last holder lets it go.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		return
	}
	p.refs--
	if p.refs == 0 && p.instance != nil {
		p.instance.stop()
		p.instance = nil
	}
}

func openInstance(ctx context.Context, credentials account.Credentials, options Options) (*TdInstance, error) {
	instance := &TdInstance{AccountName: credentials.SessionName()}
	path := filepath.Join(options.DataDir, instance.AccountName)
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}
	instance.TdlibDbDirectory = filepath.Join(path, "db")
	instance.TdlibFilesDirectory = filepath.Join(path, "files")

	authorizer := &authorizer{
		parameters: &client.TdlibParameters{
			UseTestDc:              false,
			DatabaseDirectory:      instance.TdlibDbDirectory,
			FilesDirectory:         instance.TdlibFilesDirectory,
			UseFileDatabase:        false,
			UseChatInfoDatabase:    true,
			UseMessageDatabase:     true,
			UseSecretChats:         false,
			ApiId:                  int32(convertToInt(credentials.ApiId)),
			ApiHash:                credentials.ApiHash,
			SystemLanguageCode:     "en",
			DeviceModel:            "Server",
			SystemVersion:          "1.0.0",
			ApplicationVersion:     "1.0.0",
			EnableStorageOptimizer: true,
			IgnoreFileNames:        false,
		},
		phoneNumber: credentials.PhoneNumber,
		prompter:    options.Prompter,
	}

	logStream := func(tdlibClient *client.Client) {
		tdlibClient.SetLogStream(&client.SetLogStreamRequest{
			LogStream: &client.LogStreamFile{
				Path:           filepath.Join(path, ".log"),
				MaxFileSize:    logMaxFileSize,
				RedirectStderr: true,
			},
		})
	}

	logVerbosity := func(tdlibClient *client.Client) {
		tdlibClient.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
			NewVerbosityLevel: 1,
		})
	}

	type result struct {
		tdlibClient *client.Client
		err         error
	}
	resultCh := make(chan result, 1)
	go func() {
		tdlibClient, err := client.NewClient(authorizer, logStream, logVerbosity)
		resultCh <- result{tdlibClient, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("authorize %s: %w", instance.AccountName, r.err)
		}
		instance.TdlibClient = r.tdlibClient
	case <-ctx.Done():
		// the authorization keeps going; drop the client once it is there
		go func() {
			if r := <-resultCh; r.err == nil {
				r.tdlibClient.Stop()
			}
		}()
		return nil, ctx.Err()
	}

	log.Info().Str("account", instance.AccountName).Msg("TDLib session opened")
	return instance, nil
}

func (instance *TdInstance) stop() {
	log.Info().Str("account", instance.AccountName).Msg("TDLib session closed")
	instance.TdlibClient.Stop()
}

// Me describes the authorized user, like "First Last [@username]".
func (instance *TdInstance) Me() (string, error) {
	me, err := instance.TdlibClient.GetMe()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s [@%s]", me.FirstName, me.LastName, me.Username), nil
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance != nil {
		return nil
	}
	instance, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	s.instance = instance
	return nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return nil
	}
	s.instance = nil
	s.pool.Release()
	return nil
}

func (s *Session) current() (*TdInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return nil, errNotConnected
	}
	return s.instance, nil
}

func (s *Session) GetChats(ctx context.Context, limit int) ([]forwarder.Chat, error) {
	instance, err := s.current()
	if err != nil {
		return nil, err
	}
	chats, err := instance.getChatList(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]forwarder.Chat, 0, len(chats))
	for _, chat := range chats {
		result = append(result, forwarder.Chat{Id: chat.Id, Title: chat.Title})
	}
	return result, nil
}

func (s *Session) GetLastMessage(ctx context.Context, chatId int64) (*forwarder.Message, error) {
	instance, err := s.current()
	if err != nil {
		return nil, err
	}
	return instance.getLastMessage(ctx, chatId, s.pool.options.ChatLimit)
}

func (s *Session) GetMessagesAfter(ctx context.Context, chatId, minId int64) ([]*forwarder.Message, error) {
	instance, err := s.current()
	if err != nil {
		return nil, err
	}
	return instance.getMessagesAfter(ctx, chatId, minId)
}

func (s *Session) SendText(ctx context.Context, chatId int64, text string) (int64, error) {
	instance, err := s.current()
	if err != nil {
		return 0, err
	}
	return instance.sendText(ctx, chatId, text)
}

func convertToInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Warn().Err(err).Msg("convertToInt()")
		return 0
	}
	return i
}
