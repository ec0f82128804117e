package discovery

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wyatt727/fartlooper/internal/renderer"
)

// descriptorFetchTimeout bounds a single device-description XML fetch
// (spec.md §4.2.1, §5, §7).
const descriptorFetchTimeout = 3 * time.Second

// ErrDescriptorFetch wraps a failed HTTP fetch of a device description.
var ErrDescriptorFetch = errors.New("discovery: device description fetch failed")

// ErrDescriptorParse wraps a failed parse of a device description document.
var ErrDescriptorParse = errors.New("discovery: device description parse failed")

// deviceDescription is the small forgiving subset of a UPnP device
// description document consumed per spec.md §4.2.1 and §9 (only the fields
// listed there are extracted; everything else is ignored).
type deviceDescription struct {
	XMLName xml.Name       `xml:"root"`
	Device  xmlDeviceEntry `xml:"device"`
}

type xmlDeviceEntry struct {
	FriendlyName     string         `xml:"friendlyName"`
	Manufacturer     string         `xml:"manufacturer"`
	ManufacturerURL  string         `xml:"manufacturerURL"`
	ModelName        string         `xml:"modelName"`
	ModelNumber      string         `xml:"modelNumber"`
	ModelDescription string         `xml:"modelDescription"`
	SerialNumber     string         `xml:"serialNumber"`
	UDN              string         `xml:"UDN"`
	DeviceType       string         `xml:"deviceType"`
	PresentationURL  string         `xml:"presentationURL"`
	ServiceList      xmlServiceList `xml:"serviceList"`
}

type xmlServiceList struct {
	Services []xmlService `xml:"service"`
}

type xmlService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

// parsedDescriptor is the result of fetching and parsing a device
// description, reduced to what the rest of the package needs.
type parsedDescriptor struct {
	FriendlyName string
	ControlPath  string
	Metadata     map[string]string
	RawText      string // concatenation of classification-relevant fields, for Kind inference
}

// fetchDescriptor fetches and parses the device description at location. On
// any failure it returns ErrDescriptorFetch/ErrDescriptorParse; callers fall
// back to the per-class defaults in spec.md §4.2.1 rather than failing the
// whole discovery (spec.md §7: per-renderer, non-fatal).
func fetchDescriptor(ctx context.Context, client *http.Client, location string) (*parsedDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, descriptorFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, errors.Wrap(ErrDescriptorFetch, err.Error())
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrDescriptorFetch, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrDescriptorFetch, "status %d", resp.StatusCode)
	}

	var doc deviceDescription
	dec := xml.NewDecoder(resp.Body)
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(ErrDescriptorParse, err.Error())
	}

	d := doc.Device
	meta := map[string]string{}
	setIfNonEmpty(meta, "manufacturer", d.Manufacturer)
	setIfNonEmpty(meta, "manufacturerURL", d.ManufacturerURL)
	setIfNonEmpty(meta, "modelName", d.ModelName)
	setIfNonEmpty(meta, "modelNumber", d.ModelNumber)
	setIfNonEmpty(meta, "modelDescription", d.ModelDescription)
	setIfNonEmpty(meta, "serialNumber", d.SerialNumber)
	setIfNonEmpty(meta, "UDN", d.UDN)
	setIfNonEmpty(meta, "deviceType", d.DeviceType)
	setIfNonEmpty(meta, "presentationURL", d.PresentationURL)

	controlPath := ""
	for _, svc := range d.ServiceList.Services {
		if strings.Contains(svc.ServiceType, "AVTransport") {
			controlPath = strings.TrimSpace(svc.ControlURL)
			break
		}
	}

	raw := strings.Join([]string{d.FriendlyName, d.Manufacturer, d.ModelName, d.DeviceType, location}, " ")

	return &parsedDescriptor{
		FriendlyName: d.FriendlyName,
		ControlPath:  controlPath,
		Metadata:     meta,
		RawText:      raw,
	}, nil
}

func setIfNonEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// classify assigns a Kind from the combined text of SSDP headers, the
// device description, and the discovery URL, per spec.md §4.2.1.
func classify(combinedText string) renderer.Kind {
	lower := strings.ToLower(combinedText)
	switch {
	case strings.Contains(lower, "sonos"):
		return renderer.KindSonos
	case strings.Contains(lower, "chromecast"), strings.Contains(lower, "cast"):
		return renderer.KindChromecast
	case strings.Contains(lower, "roku"):
		return renderer.KindRoku
	case strings.Contains(lower, "dlna"):
		return renderer.KindDLNA
	default:
		return renderer.KindGenericUPnP
	}
}

// fallbackControlPath returns the per-device-class fallback control URL
// used when a description fetch fails or no AVTransport service is found
// (spec.md §4.2.1).
func fallbackControlPath(kind renderer.Kind) string {
	switch kind {
	case renderer.KindSonos:
		return "/MediaRenderer/AVTransport/Control"
	case renderer.KindChromecast:
		return "/setup/eureka_info"
	case renderer.KindRoku:
		return "/keypress/Home"
	default:
		return "/upnp/control/AVTransport1"
	}
}

// fallbackPort returns the per-device-class port fallback used when an SSDP
// LOCATION URL has no explicit port (spec.md §4.2.1). probe is used to
// reach the "first reachable of the ordered candidate list" behavior for
// kinds without a fixed well-known port.
func fallbackPort(kind renderer.Kind, probe func(port uint16) bool) uint16 {
	switch kind {
	case renderer.KindSonos:
		return 1400
	case renderer.KindChromecast:
		return 8008
	default:
		for _, p := range []uint16{80, 8080, 7000, 8000, 49152} {
			if probe != nil && probe(p) {
				return p
			}
		}
		return 80
	}
}
