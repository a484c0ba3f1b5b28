// Package masking hides credentials in anything echoed back to clients or
// written to logs. No error text ever embeds a secret.
package masking

import "regexp"

var (
	// user:password@host inside a URL-style DSN.
	urlCredentials = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)

	// password=... inside a key/value DSN.
	kvPassword = regexp.MustCompile(`(?i)(password)=([^\s;]+)`)
)

// DSN masks credentials in a connection string, keeping the username
// visible so the echoed value stays debuggable: user:***@host.
func DSN(dsn string) string {
	masked := urlCredentials.ReplaceAllString(dsn, "://$1:***@")
	return kvPassword.ReplaceAllString(masked, "$1=***")
}

// Error masks credentials inside an error message. Driver errors commonly
// repeat the DSN verbatim, so every error surfaced from an engine open or
// probe passes through here.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return DSN(err.Error())
}
