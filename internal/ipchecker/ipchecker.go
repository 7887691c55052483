// Package ipchecker restricts operational endpoints to clients from a
// trusted subnet. The client address is the remote address of the
// connection. The X-Real-IP and X-Forwarded-For headers are honoured only
// when that connection comes from one of the trusted reverse proxies.
package ipchecker

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/patric-chuzhbe/wandernotes/internal/logger"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
)

var ErrUnknownClientIP = errors.New("unable to determine the client IP")

// IPChecker validates whether a client belongs to the trusted subnet.
// Without a subnet every client is rejected.
type IPChecker struct {
	trustedSubnet  *net.IPNet
	trustedProxies []*net.IPNet
}

// New creates an IPChecker for the subnet in CIDR notation
// (e.g. "192.168.1.0/24"). An empty string disables access entirely.
// trustedProxies lists the CIDRs of the reverse proxies allowed to report
// the client address in forwarding headers.
func New(trustedSubnet string, trustedProxies ...string) (*IPChecker, error) {
	checker := &IPChecker{}
	for _, proxy := range trustedProxies {
		_, proxyNet, err := net.ParseCIDR(proxy)
		if err != nil {
			return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling for a proxy: %w", err)
		}
		checker.trustedProxies = append(checker.trustedProxies, proxyNet)
	}

	if trustedSubnet == "" {
		return checker, nil
	}
	_, allowedNet, err := net.ParseCIDR(trustedSubnet)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
	}
	checker.trustedSubnet = allowedNet

	return checker, nil
}

// Check reports whether clientIP belongs to the trusted subnet.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && clientIP != nil && checker.trustedSubnet.Contains(clientIP)
}

// GetClientIP extracts the client's IP address from an HTTP request.
func (checker *IPChecker) GetClientIP(request *http.Request) (net.IP, error) {
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/GetClientIP(): error while `net.SplitHostPort()` calling: %w", err)
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return nil, ErrUnknownClientIP
	}
	if !checker.isTrustedProxy(peer) {
		return peer, nil
	}

	if ip := net.ParseIP(strings.TrimSpace(request.Header.Get("X-Real-IP"))); ip != nil {
		return ip, nil
	}
	if xff := request.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip, nil
		}
	}

	return peer, nil
}

func (checker *IPChecker) isTrustedProxy(peer net.IP) bool {
	for _, proxy := range checker.trustedProxies {
		if proxy.Contains(peer) {
			return true
		}
	}
	return false
}

// IsTrustedSubnetEmpty returns true if no trusted subnet is configured.
func (checker *IPChecker) IsTrustedSubnetEmpty() bool {
	return checker.trustedSubnet == nil
}

// TrustedOnly is an HTTP middleware answering 403 to every client outside
// the trusted subnet.
func (checker *IPChecker) TrustedOnly(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		clientIP, err := checker.GetClientIP(request)
		if err != nil || !checker.Check(clientIP) {
			logger.Log.Debugw("request from an untrusted client rejected", "uri", request.RequestURI, "clientIP", clientIP, "err", err)
			response.Header().Set("Content-Type", "application/json")
			response.WriteHeader(http.StatusForbidden)
			_, _ = response.Write([]byte(`{"error":true,"message":"` + models.MessageForbidden + `"}`))
			return
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
