package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP returns the client address for request logs. X-Real-IP wins when
// it is public, then the first public X-Forwarded-For hop, then the peer
// address of the connection. gin's ClientIP is not used as the fallback since
// it would read the private X-Real-IP back.
func GetRealIP(c *gin.Context) string {
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		if ip := net.ParseIP(realIP); ip != nil && !ip.IsPrivate() && !ip.IsLoopback() {
			return realIP
		}
	}

	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for _, hop := range hops {
			hop = strings.TrimSpace(hop)
			if ip := net.ParseIP(hop); ip != nil && !ip.IsPrivate() && !ip.IsLoopback() {
				return hop
			}
		}
		// all hops private: the first one is still the closest to the client
		if first := strings.TrimSpace(hops[0]); net.ParseIP(first) != nil {
			return first
		}
	}

	return remoteHost(c.Request.RemoteAddr)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}
