package tracking

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// Device types reported in user metadata.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// CaptureMetadata derives device, browser and OS details from a user agent string.
func CaptureMetadata(userAgent string) models.UserMetadata {
	md := models.UserMetadata{UserAgent: userAgent}
	if strings.TrimSpace(userAgent) == "" {
		md.DeviceType = DeviceDesktop
		return md
	}
	ua := useragent.New(userAgent)

	name, version := ua.Browser()
	md.Browser = strings.TrimSpace(name + " " + version)
	md.OS = ua.OS()
	md.Device = ua.Model()
	if md.Device == "" {
		md.Device = ua.Platform()
	}

	switch {
	case ua.Bot():
		md.DeviceType = DeviceBot
	case isTablet(userAgent):
		md.DeviceType = DeviceTablet
	case ua.Mobile():
		md.DeviceType = DeviceMobile
	default:
		md.DeviceType = DeviceDesktop
	}
	return md
}

// isTablet covers what the parser leaves out: iPads and Android devices without "Mobile".
func isTablet(ua string) bool {
	l := strings.ToLower(ua)
	if strings.Contains(l, "ipad") || strings.Contains(l, "tablet") {
		return true
	}
	return strings.Contains(l, "android") && !strings.Contains(l, "mobile")
}
