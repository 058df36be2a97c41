package services

import (
	"fmt"
	"time"

	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/pkg/timefmt"
)

func verificationCodeEmail(user *models.User, code string, ttl time.Duration) (string, string) {
	subject := "2-factor authentication"
	body := fmt.Sprintf(`Hello %s,

Your verification code is %s

The code is valid for %s and can be used once.

If you did not try to sign in, someone may know your password. Please change it.
`, user.Username, code, timefmt.FormatSeconds(int64(ttl.Seconds()), timefmt.Options{}))

	return subject, body
}

func lockoutNotificationEmail(user *models.User, ip string, at time.Time) (string, string) {
	subject := "Too many failed login attempts"
	body := fmt.Sprintf(`Hello %s,

We noticed many failed attempts to sign in to your account.

IP address: %s
Time: %s

If this was you, you can ignore this message. Otherwise we recommend changing your password.
`, user.Username, ip, at.UTC().Format(time.RFC1123))

	return subject, body
}
