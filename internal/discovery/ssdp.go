package discovery

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wyatt727/fartlooper/internal/renderer"
)

const (
	ssdpAddr     = "239.255.255.250:1900"
	ssdpInterval = 2 * time.Second
)

// ssdpRequest is the byte-exact M-SEARCH request mandated by spec.md §6.
const ssdpRequest = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: upnp:rootdevice\r\n" +
	"MX: 3\r\n" +
	"\r\n"

// SSDPDiscoverer sends M-SEARCH multicasts and parses HTTP-like SSDP
// responses, fetching each new responder's device description (spec.md
// §4.2.1).
type SSDPDiscoverer struct {
	log        logrus.FieldLogger
	httpClient *http.Client
}

// NewSSDP constructs an SSDP discoverer.
func NewSSDP(log logrus.FieldLogger) *SSDPDiscoverer {
	return &SSDPDiscoverer{
		log:        log.WithField("discoverer", "ssdp"),
		httpClient: &http.Client{Timeout: descriptorFetchTimeout},
	}
}

// Source identifies this discoverer's renderer.Source for dedup precedence.
func (d *SSDPDiscoverer) Source() renderer.Source { return renderer.SourceSsdp }

// Discover repeats the M-SEARCH multicast at ~2s intervals until ctx is
// cancelled/times out, emitting each newly-seen responder at most once on
// out. Discover blocks until ctx is done; callers run it in a goroutine.
func (d *SSDPDiscoverer) Discover(ctx context.Context, out chan<- *renderer.Renderer) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		d.log.WithError(err).Warn("failed to open ssdp socket")
		return
	}
	defer conn.Close()

	dest, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		d.log.WithError(err).Warn("failed to resolve ssdp multicast address")
		return
	}

	seen := sync.Map{} // ip:port -> struct{}

	respC := make(chan ssdpResponse, 32)
	go d.readLoop(ctx, conn, respC)

	ticker := time.NewTicker(ssdpInterval)
	defer ticker.Stop()

	d.send(conn, dest)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.send(conn, dest)
		case resp := <-respC:
			key := renderer.ID(resp.ip, resp.port)
			if _, dup := seen.LoadOrStore(key, struct{}{}); dup {
				continue
			}
			d.handleResponse(ctx, resp, out)
		}
	}
}

func (d *SSDPDiscoverer) send(conn *net.UDPConn, dest *net.UDPAddr) {
	if _, err := conn.WriteTo([]byte(ssdpRequest), dest); err != nil {
		d.log.WithError(err).Debug("ssdp m-search send failed")
	} else {
		d.log.Debug("ssdp m-search sent")
	}
}

type ssdpResponse struct {
	ip       net.IP
	port     uint16
	location string
	server   string
	usn      string
}

func (d *SSDPDiscoverer) readLoop(ctx context.Context, conn *net.UDPConn, out chan<- ssdpResponse) {
	buf := make([]byte, 2048)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			d.log.WithError(err).Debug("ssdp read error")
			continue
		}

		resp, ok := parseSSDPResponse(buf[:n], addr.IP)
		if !ok {
			continue
		}
		select {
		case out <- resp:
		case <-ctx.Done():
			return
		}
	}
}

// parseSSDPResponse parses an "HTTP/1.1 200 *" SSDP response and extracts
// LOCATION, SERVER, USN (spec.md §4.2.1). The ip used for the dedup key is
// the responder's source address; the port is the LOCATION URL's explicit
// port, or 0 when LOCATION has none.
func parseSSDPResponse(data []byte, sourceIP net.IP) (ssdpResponse, bool) {
	reader := bufio.NewReader(strings.NewReader(string(data)))
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return ssdpResponse{}, false
	}
	if !strings.HasPrefix(statusLine, "HTTP/1.1 200") {
		return ssdpResponse{}, false
	}

	headers := map[string]string{}
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" || err != nil {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers[strings.ToUpper(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}

	location := headers["LOCATION"]
	port := uint16(0)
	if location != "" {
		if _, portStr, err := net.SplitHostPort(strings.TrimPrefix(strings.TrimPrefix(location, "http://"), "https://")); err == nil {
			if portStr = strings.SplitN(portStr, "/", 2)[0]; portStr != "" {
				if p, err := strconv.Atoi(portStr); err == nil {
					port = uint16(p)
				}
			}
		}
	}

	return ssdpResponse{
		ip:       sourceIP,
		port:     port,
		location: location,
		server:   headers["SERVER"],
		usn:      headers["USN"],
	}, true
}

func (d *SSDPDiscoverer) handleResponse(ctx context.Context, resp ssdpResponse, out chan<- *renderer.Renderer) {
	combined := strings.Join([]string{resp.server, resp.usn, resp.location}, " ")
	kind := classify(combined)

	var desc *parsedDescriptor
	if resp.location != "" {
		if parsed, err := fetchDescriptor(ctx, d.httpClient, resp.location); err == nil {
			desc = parsed
			kind = classify(combined + " " + desc.RawText)
		} else {
			d.log.WithFields(logrus.Fields{"location": resp.location, "error": err}).Warn("device description fetch failed, using fallback")
		}
	}

	port := resp.port
	if port == 0 {
		port = fallbackPort(kind, func(p uint16) bool { return probeTCP(resp.ip, p, 200*time.Millisecond) })
	}

	r := renderer.New(resp.ip, port, renderer.SourceSsdp)
	r.Kind = kind
	r.FriendlyName = resp.server
	if desc != nil {
		if desc.FriendlyName != "" {
			r.FriendlyName = desc.FriendlyName
		}
		if desc.ControlPath != "" {
			r.ControlPath = desc.ControlPath
		}
		for k, v := range desc.Metadata {
			r.Metadata[k] = v
		}
	}
	if r.ControlPath == "" {
		r.ControlPath = fallbackControlPath(kind)
	}
	if r.FriendlyName == "" {
		r.FriendlyName = renderer.ID(resp.ip, port)
	}

	select {
	case out <- r:
	case <-ctx.Done():
	}
}
