package telephony

import (
	"encoding/xml"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// StreamURL is the wss:// address Twilio dials back for the media stream.
func StreamURL(host, path string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://"), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "wss://" + host + path
}

// ConnectStreamTwiML answers an incoming call by connecting it to a bidirectional
// media stream. say, when set, is spoken by Twilio before the stream opens.
func ConnectStreamTwiML(streamURL, say string) ([]byte, error) {
	resp := twimlResponse{Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}}}
	if strings.TrimSpace(say) != "" {
		resp.Say = &twimlSay{Text: say}
	}
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
