// Package mitm implements the TLS interception engine: a proxy listener
// that terminates TLS with certificates minted by a local CA, forwards
// requests to the origin, and exposes inspection hooks to the caller.
package mitm

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Hooks are the interception points offered to the embedding session.
type Hooks struct {
	// Inspect is called for every intercepted request. Returning true flags
	// the exchange for deep inspection; the request is forwarded either way.
	Inspect func(req *http.Request) bool

	// ResponseCompleted is called with the origin's response for flagged
	// exchanges, before the response is written back to the client. It must
	// not block; long work belongs in a goroutine.
	ResponseCompleted func(req *http.Request, resp *http.Response)
}

// Proxy is a TLS-intercepting proxy listener.
type Proxy struct {
	addr   string
	ca     *CertAuthority
	hooks  Hooks
	log    zerolog.Logger
	client *http.Client

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewProxy(addr string, ca *CertAuthority, hooks Hooks, logger zerolog.Logger) *Proxy {
	return &Proxy{
		addr:  addr,
		ca:    ca,
		hooks: hooks,
		log:   logger,
		conns: make(map[net.Conn]struct{}),
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				Proxy: http.ProxyFromEnvironment,
			},
			// The terminal login redirect targets a custom URL scheme; it
			// must reach the client untouched, so redirects are never
			// followed upstream.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 30 * time.Second,
		},
	}
}

// Start binds the listener and begins accepting connections.
func (p *Proxy) Start() error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("[Proxy Start] failed to bind %q: %w", p.addr, err)
	}

	p.mu.Lock()
	p.ln = ln
	p.closed = false
	p.mu.Unlock()

	p.wg.Add(1)
	go p.acceptLoop(ln)

	p.log.Info().Str("addr", ln.Addr().String()).Msg("Proxy listening")
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Addr()
}

// Close stops the listener and waits for in-flight connections to finish.
// By the time Close returns no further hooks will fire.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed || p.ln == nil {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ln := p.ln
	p.mu.Unlock()

	err := ln.Close()

	// Idle tunnels block on reads; closing them unblocks the handlers so
	// the wait below terminates.
	p.mu.Lock()
	for conn := range p.conns {
		_ = conn.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return err
}

func (p *Proxy) trackConn(conn net.Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
}

func (p *Proxy) untrackConn(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}

func (p *Proxy) acceptLoop(ln net.Listener) {
	defer p.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if !isNoise(err) {
				p.log.Error().Err(err).Msg("Accept failed")
			}
			continue
		}

		p.trackConn(conn)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.untrackConn(conn)
			p.handleConnection(conn)
		}()
	}
}

func (p *Proxy) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF && !isNoise(err) {
				p.log.Error().Str("client", conn.RemoteAddr().String()).Err(err).Msg("Failed to read request")
			}
			return
		}

		if req.Method == http.MethodConnect {
			p.handleConnect(conn, req)
			return
		}

		if !req.URL.IsAbs() {
			req.URL.Scheme = "http"
			req.URL.Host = req.Host
		}
		if !p.exchange(conn, req) {
			return
		}
	}
}

// handleConnect establishes the tunnel, terminates TLS with a minted
// certificate for the requested host, and serves the decrypted requests.
func (p *Proxy) handleConnect(conn net.Conn, connectReq *http.Request) {
	cert, err := p.ca.HostCertificate(connectReq.Host)
	if err != nil {
		p.log.Error().Str("host", connectReq.Host).Err(err).Msg("Failed to mint certificate")
		_, _ = conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tlsConn := tls.Server(conn, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	})
	defer tlsConn.Close()

	if err := tlsConn.Handshake(); err != nil {
		if !isNoise(err) {
			p.log.Error().Str("host", connectReq.Host).Err(err).Msg("TLS handshake failed")
		}
		return
	}

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF && !isNoise(err) {
				p.log.Error().Str("host", connectReq.Host).Err(err).Msg("Failed to read intercepted request")
			}
			return
		}

		req.URL.Scheme = "https"
		req.URL.Host = req.Host

		if !p.exchange(tlsConn, req) {
			return
		}
	}
}

// exchange forwards one request to the origin, runs the hooks, and writes
// the response back to the client. Returns false when the connection must
// be torn down: an origin failure closes the client side too, so a
// partially-inspected connection never lingers.
func (p *Proxy) exchange(clientConn io.Writer, req *http.Request) bool {
	inspect := p.hooks.Inspect != nil && p.hooks.Inspect(req)
	if inspect {
		p.log.Debug().Str("url", req.URL.String()).Msg("Inspecting request")
	}

	resp, err := p.forward(req)
	if err != nil {
		if !isNoise(err) {
			p.log.Error().Str("url", req.URL.String()).Err(err).Msg("Failed to forward request")
		}
		_, _ = clientConn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return false
	}
	defer resp.Body.Close()

	if inspect && p.hooks.ResponseCompleted != nil {
		p.hooks.ResponseCompleted(req, resp)
	}

	if err := resp.Write(clientConn); err != nil {
		if !isNoise(err) {
			p.log.Error().Str("url", req.URL.String()).Err(err).Msg("Failed to write response")
		}
		return false
	}
	return true
}

// forward replays the intercepted request against the real origin. The
// origin sees an ordinary client and its certificate is validated normally.
func (p *Proxy) forward(req *http.Request) (*http.Response, error) {
	outReq := &http.Request{
		Method:        req.Method,
		URL:           req.URL,
		Header:        req.Header.Clone(),
		Body:          req.Body,
		ContentLength: req.ContentLength,
		Host:          req.Host,
	}
	outReq.Header.Del("Proxy-Connection")

	return p.client.Do(outReq)
}

// isNoise reports whether err is expected connection noise from probing or
// incompatible clients: reset connections and failed TLS version
// negotiation. These are suppressed entirely.
func isNoise(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "client offered only unsupported versions") ||
		strings.Contains(msg, "protocol version not supported") ||
		strings.Contains(msg, "no supported versions satisfy MinVersion and MaxVersion")
}
