package accounts

import (
	"errors"
	"fmt"

	"github.com/comerc/tgrelay/forwarder"
	"github.com/rs/zerolog/log"
	"github.com/zelenin/go-tdlib/client"
)

var errUnsupportedState = errors.New("unsupported authorization state")

// authorizer walks TDLib through the authorization states with the
// account's credentials.
type authorizer struct {
	parameters  *client.TdlibParameters
	phoneNumber string
	prompter    Prompter
}

func (a *authorizer) Handle(tdlibClient *client.Client, state client.AuthorizationState) error {
	switch state.AuthorizationStateType() {
	case client.TypeAuthorizationStateWaitTdlibParameters:
		_, err := tdlibClient.SetTdlibParameters(&client.SetTdlibParametersRequest{
			Parameters: a.parameters,
		})
		return err
	case client.TypeAuthorizationStateWaitEncryptionKey:
		_, err := tdlibClient.CheckDatabaseEncryptionKey(&client.CheckDatabaseEncryptionKeyRequest{})
		return err
	case client.TypeAuthorizationStateWaitPhoneNumber:
		if a.prompter == nil {
			return forwarder.ErrLoginRequired
		}
		_, err := tdlibClient.SetAuthenticationPhoneNumber(&client.SetAuthenticationPhoneNumberRequest{
			PhoneNumber: a.phoneNumber,
			Settings: &client.PhoneNumberAuthenticationSettings{
				AllowFlashCall:       false,
				IsCurrentPhoneNumber: false,
				AllowSmsRetrieverApi: false,
			},
		})
		return err
	case client.TypeAuthorizationStateWaitCode:
		code, err := a.ask(fmt.Sprintf("Enter code for %s: ", a.phoneNumber))
		if err != nil {
			return err
		}
		_, err = tdlibClient.CheckAuthenticationCode(&client.CheckAuthenticationCodeRequest{
			Code: code,
		})
		return err
	case client.TypeAuthorizationStateWaitPassword:
		password, err := a.ask(fmt.Sprintf("Enter password for %s: ", a.phoneNumber))
		if err != nil {
			return err
		}
		_, err = tdlibClient.CheckAuthenticationPassword(&client.CheckAuthenticationPasswordRequest{
			Password: password,
		})
		return err
	case client.TypeAuthorizationStateReady:
		return nil
	// after a failed step the client is closed and passes through these
	case client.TypeAuthorizationStateClosing, client.TypeAuthorizationStateClosed:
		return nil
	}
	log.Warn().Str("state", state.AuthorizationStateType()).Msg("Authorize()")
	return errUnsupportedState
}

func (a *authorizer) ask(prompt string) (string, error) {
	if a.prompter == nil {
		return "", forwarder.ErrLoginRequired
	}
	return a.prompter.Ask(prompt)
}

func (a *authorizer) Close() {}
