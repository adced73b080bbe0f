package telephony

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// TwiML structures for a bidirectional media stream.

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// TwiML returns a voice response that connects the call to a bidirectional
// media stream at streamURL. Parameters are delivered back in the start
// event's customParameters, in name order.
func TwiML(streamURL string, params map[string]string) ([]byte, error) {
	if streamURL == "" {
		return nil, fmt.Errorf("stream url is required")
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	stream := twimlStream{URL: streamURL}
	for _, name := range names {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: name, Value: params[name]})
	}

	out, err := xml.Marshal(twimlResponse{Connect: twimlConnect{Stream: stream}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// StreamURL converts a public http(s) base URL into the ws(s) URL of the
// media stream endpoint at path.
func StreamURL(publicBaseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid public base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid public base url %q: scheme must be http or https", publicBaseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid public base url %q: missing host", publicBaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
