package control

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSetAVTransportURIIsByteExact(t *testing.T) {
	got := buildSetAVTransportURI("http://192.168.4.10:8080/media/current")
	want := `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
 <s:Body>
  <u:SetAVTransportURI xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
   <InstanceID>0</InstanceID>
   <CurrentURI>http://192.168.4.10:8080/media/current</CurrentURI>
   <CurrentURIMetaData></CurrentURIMetaData>
  </u:SetAVTransportURI>
 </s:Body>
</s:Envelope>`
	assert.Equal(t, want, got)
}

func TestBuildPlayIsByteExact(t *testing.T) {
	got := buildPlay()
	want := `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
 <s:Body>
  <u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
   <InstanceID>0</InstanceID>
   <Speed>1</Speed>
  </u:Play>
 </s:Body>
</s:Envelope>`
	assert.Equal(t, want, got)
}

func TestSoapActionsMatchUPnPConvention(t *testing.T) {
	assert.True(t, strings.HasSuffix(soapActionSetAVTransportURI, `#SetAVTransportURI"`))
	assert.True(t, strings.HasSuffix(soapActionPlay, `#Play"`))
	assert.True(t, strings.HasSuffix(soapActionStop, `#Stop"`))
}
