package control

import "fmt"

// avTransportNS is the UPnP service namespace both envelopes declare.
const avTransportNS = "urn:schemas-upnp-org:service:AVTransport:1"

// setAVTransportURITemplate is the byte-exact envelope from spec.md §6:
// attribute order, namespace prefixes, and the empty CurrentURIMetaData
// element all matter to renderers that parse this with a regex rather than
// an XML parser.
const setAVTransportURITemplate = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
 <s:Body>
  <u:SetAVTransportURI xmlns:u="%s">
   <InstanceID>0</InstanceID>
   <CurrentURI>%s</CurrentURI>
   <CurrentURIMetaData></CurrentURIMetaData>
  </u:SetAVTransportURI>
 </s:Body>
</s:Envelope>`

const playTemplate = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
 <s:Body>
  <u:Play xmlns:u="%s">
   <InstanceID>0</InstanceID>
   <Speed>1</Speed>
  </u:Play>
 </s:Body>
</s:Envelope>`

const stopTemplate = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
 <s:Body>
  <u:Stop xmlns:u="%s">
   <InstanceID>0</InstanceID>
  </u:Stop>
 </s:Body>
</s:Envelope>`

const (
	soapActionSetAVTransportURI = `"urn:schemas-upnp-org:service:AVTransport:1#SetAVTransportURI"`
	soapActionPlay              = `"urn:schemas-upnp-org:service:AVTransport:1#Play"`
	soapActionStop              = `"urn:schemas-upnp-org:service:AVTransport:1#Stop"`
)

// buildSetAVTransportURI renders the SetAVTransportURI envelope for clipURL.
// clipURL is never XML-escaped beyond what spec.md §6 shows verbatim; the
// clip URL is always one fartlooper itself constructs (host:port/media/current)
// and never contains characters requiring escaping.
func buildSetAVTransportURI(clipURL string) string {
	return fmt.Sprintf(setAVTransportURITemplate, avTransportNS, clipURL)
}

func buildPlay() string {
	return fmt.Sprintf(playTemplate, avTransportNS)
}

func buildStop() string {
	return fmt.Sprintf(stopTemplate, avTransportNS)
}
