package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder covering the
// verbs the voice URL answers with.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlDial struct {
	XMLName  xml.Name    `xml:"Dial"`
	CallerID string      `xml:"callerId,attr,omitempty"`
	Number   twimlNumber `xml:"Number"`
}

type twimlNumber struct {
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod string `xml:"statusCallbackMethod,attr,omitempty"`
	Number               string `xml:",chardata"`
}

// DialInstruction is an outbound PSTN dial from the browser leg.
type DialInstruction struct {
	CallerID string
	Number   string

	// StatusCallbackURL receives the dialed leg's completion.
	StatusCallbackURL string
}

// RenderDial renders <Dial callerId><Number statusCallback>…</Number></Dial>.
func RenderDial(d DialInstruction) (string, error) {
	if strings.TrimSpace(d.Number) == "" {
		return "", errors.New("telephony: number required for dial")
	}
	n := twimlNumber{Number: d.Number}
	if d.StatusCallbackURL != "" {
		n.StatusCallback = d.StatusCallbackURL
		n.StatusCallbackEvent = "completed"
		n.StatusCallbackMethod = "POST"
	}
	return render(twimlResponse{Verbs: []any{twimlDial{CallerID: d.CallerID, Number: n}}})
}

// RenderReject renders a <Reject>; reason is "busy" or "rejected".
func RenderReject(reason string) (string, error) {
	return render(twimlResponse{Verbs: []any{twimlReject{Reason: reason}}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
