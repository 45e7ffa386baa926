// Package stream describes the media transport negotiated with the producer.
package stream

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is the RTP/RTCP destination a stream process sends to.
type Endpoint struct {
	Host     string
	RTPPort  int
	RTCPPort int
}

// RTPURL returns the ffmpeg RTP output URL: rtp://host:rtp?rtcpport=rtcp.
func (e Endpoint) RTPURL() string {
	return fmt.Sprintf("rtp://%s?rtcpport=%d", net.JoinHostPort(e.Host, strconv.Itoa(e.RTPPort)), e.RTCPPort)
}

// Valid reports whether the endpoint has a host and usable ports.
func (e Endpoint) Valid() bool {
	return e.Host != "" && validPort(e.RTPPort) && validPort(e.RTCPPort)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
