package account

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

const CredentialsFile = "credentials.txt"

// Credentials of one Telegram application and the account it signs in with.
type Credentials struct {
	ApiId       string
	ApiHash     string
	PhoneNumber string
}

// ReadCredentials reads api id, api hash and phone number from the first
// three lines of fileName. It never fails: absent values stay empty and
// surface later, when Telegram rejects the authorization.
func ReadCredentials(fileName string) Credentials {
	var lines [3]string

	file, err := os.Open(fileName)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", fileName).Msg("Credentials file not found")
	} else if err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("Failed to open credentials file")
	} else {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for i := 0; i < len(lines) && scanner.Scan(); i++ {
			lines[i] = strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Error().Err(err).Str("file", fileName).Msg("Failed to read credentials file")
		}
	}

	credentials := Credentials{
		ApiId:       lines[0],
		ApiHash:     lines[1],
		PhoneNumber: lines[2],
	}
	credentials.fillFromEnv()
	return credentials
}

func (c *Credentials) fillFromEnv() {
	for _, field := range []struct {
		value *string
		env   string
	}{
		{&c.ApiId, "TGRELAY_API_ID"},
		{&c.ApiHash, "TGRELAY_API_HASH"},
		{&c.PhoneNumber, "TGRELAY_PHONENUMBER"},
	} {
		if *field.value == "" {
			*field.value = strings.TrimSpace(os.Getenv(field.env))
		}
	}
}

// SessionName names the session artifact kept for this phone number.
func (c Credentials) SessionName() string {
	return "session_" + c.PhoneNumber
}

func (c Credentials) IsEmpty() bool {
	return c.ApiId == "" && c.ApiHash == "" && c.PhoneNumber == ""
}
