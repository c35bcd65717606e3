package oracle

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

func helloID(fingerprint string) (utls.ClientHelloID, error) {
	switch strings.ToLower(fingerprint) {
	case "chrome":
		return utls.HelloChrome_Auto, nil
	case "firefox":
		return utls.HelloFirefox_Auto, nil
	case "safari":
		return utls.HelloSafari_Auto, nil
	case "golang":
		return utls.HelloGolang, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("unknown utls fingerprint %q", fingerprint)
}

// newTransport returns a plain transport, or one that performs the TLS
// handshake with the named uTLS ClientHello when fingerprint is set.
func newTransport(fingerprint string) (http.RoundTripper, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if fingerprint == "" {
		return &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}, nil
	}

	id, err := helloID(fingerprint)
	if err != nil {
		return nil, err
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			uconn, err := http1Client(rawConn, host, id)
			if err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			if err := uconn.HandshakeContext(ctx); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}, nil
}

// http1Client builds a uTLS client that only offers http/1.1 over ALPN,
// since net/http cannot speak h2 over a custom DialTLSContext conn.
func http1Client(conn net.Conn, host string, id utls.ClientHelloID) (*utls.UConn, error) {
	config := &utls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}
	if id == utls.HelloGolang {
		return utls.UClient(conn, config, id), nil
	}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uconn := utls.UClient(conn, config, utls.HelloCustom)
	if err := uconn.ApplyPreset(&spec); err != nil {
		return nil, err
	}
	return uconn, nil
}
