package tracker

import (
	"errors"
	"net/netip"
	"strings"

	"log/slog"

	"gorm.io/gorm"

	"beaconly/internal/pkg/user_agent"
	"beaconly/internal/services"
)

// Verdict is the outcome of a single ingestion guard. Rejections are silent
// toward the client; the reason exists only for logs and tests.
type Verdict struct {
	Proceed bool
	Reason  string
}

func accept() Verdict {
	return Verdict{Proceed: true}
}

func reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

// Rejection reasons.
const (
	RejectServiceInactive = "service_inactive"
	RejectDoNotTrack      = "do_not_track"
	RejectIgnoredNetwork  = "ignored_network"
	RejectRobot           = "robot"
)

// guardActiveService resolves the target service. Unknown and archived
// services are indistinguishable so the unauthenticated ingestion path
// never confirms whether an id is real. Datastore failures are not
// rejections and propagate as errors.
func guardActiveService(db *gorm.DB, serviceUUID string) (*services.Service, Verdict, error) {
	service, err := services.GetActiveService(db, serviceUUID)
	if err != nil {
		var notFound *services.ServiceNotFoundError
		if errors.As(err, &notFound) {
			return nil, reject(RejectServiceInactive), nil
		}
		return nil, reject(RejectServiceInactive), err
	}
	return service, accept(), nil
}

// guardDoNotTrack honors browser DNT/GPC signals when the service opts in.
func guardDoNotTrack(service *services.Service, doNotTrack bool) Verdict {
	if doNotTrack && service.RespectDNT {
		return reject(RejectDoNotTrack)
	}
	return accept()
}

// guardIgnoredNetworks drops traffic from the service's ignored CIDR ranges.
// A malformed client IP is logged and treated as non-matching.
func guardIgnoredNetworks(logger *slog.Logger, service *services.Service, clientIP string) Verdict {
	if service.IgnoredNetworks == "" {
		return accept()
	}

	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		logger.Warn("Unparseable client IP for ignore-list check",
			slog.String("service", service.UUID),
			slog.Any("error", err))
		return accept()
	}

	if service.IgnoresIP(addr) {
		return reject(RejectIgnoredNetwork)
	}
	return accept()
}

// guardRobot drops crawler traffic for services that ignore robots. Only
// consulted on the new-visitor path; an existing session already passed it.
func guardRobot(service *services.Service, deviceType string) Verdict {
	if service.IgnoreRobots && deviceType == DeviceRobot {
		return reject(RejectRobot)
	}
	return accept()
}

// classifyDeviceType maps a parsed user agent to the stored device type.
// The robot classification wins over everything else: an explicit bot flag,
// a googlebot-like browser family, or a spider-like device all count.
func classifyDeviceType(ua user_agent.UserAgent) string {
	browser := strings.ToLower(ua.Browser)
	device := strings.ToLower(ua.Device)
	switch {
	case ua.Bot || ua.Spider || strings.Contains(browser, "googlebot") || strings.Contains(device, "spider"):
		return DeviceRobot
	case ua.Mobile:
		return DevicePhone
	case ua.Tablet:
		return DeviceTablet
	case ua.Desktop:
		return DeviceDesktop
	default:
		return DeviceOther
	}
}
