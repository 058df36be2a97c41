package auth

import (
	"net/http"
	"time"
)

// DeviceCookieName is the cookie carrying the client's device identifier
const DeviceCookieName = "device_id"

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string        // Empty string = current host only
	Secure   bool          // HTTPS only
	SameSite string        // "strict", "lax", or "none"
	MaxAge   time.Duration // Lifetime of the device cookie
}

// SetDeviceCookie stores the device identifier in an httpOnly cookie. The
// cookie must outlive the device trust period or trusted devices are lost.
func SetDeviceCookie(w http.ResponseWriter, deviceID string, config CookieConfig) {
	maxAge := int(config.MaxAge.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    deviceID,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(config.MaxAge),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// ClearDeviceCookie removes the device cookie
func ClearDeviceCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// GetDeviceCookie retrieves the device identifier, empty if absent
func GetDeviceCookie(r *http.Request) string {
	cookie, err := r.Cookie(DeviceCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
