package relay

import (
	"fmt"
	"net/url"
)

// Default transcription parameters applied when the client does not supply a
// value. These guarantee the upstream service always receives a decodable
// audio configuration, even from a minimal client.
const (
	DefaultModel       = "nova-3"
	DefaultLanguage    = "en"
	DefaultEncoding    = "linear16"
	DefaultSampleRate  = "16000"
	DefaultChannels    = "1"
	DefaultSmartFormat = "true"
)

// Options holds the client-supplied transcription parameters captured at
// upgrade time. Empty string means the client did not supply the parameter.
// Options are read-only for the lifetime of a session.
type Options struct {
	Model       string
	Language    string
	Encoding    string
	SampleRate  string
	Channels    string
	SmartFormat string

	// Optional flags: forwarded only when the client supplied them, so that
	// the upstream service's own defaults stay in effect otherwise.
	Punctuate   string
	Diarize     string
	FillerWords string
}

// OptionsFromQuery extracts transcription options from the upgrade request
// query parameters.
func OptionsFromQuery(q url.Values) Options {
	return Options{
		Model:       q.Get("model"),
		Language:    q.Get("language"),
		Encoding:    q.Get("encoding"),
		SampleRate:  q.Get("sample_rate"),
		Channels:    q.Get("channels"),
		SmartFormat: q.Get("smart_format"),
		Punctuate:   q.Get("punctuate"),
		Diarize:     q.Get("diarize"),
		FillerWords: q.Get("filler_words"),
	}
}

// BuildUpstreamURL maps the options onto the upstream connection URL. The
// upstream service is authenticated with the server-held API key passed as a
// query parameter, never with the client's own session credential.
func BuildUpstreamURL(endpoint, apiKey string, opts Options) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid upstream endpoint %q: %w", endpoint, err)
	}

	q := u.Query()
	q.Set("token", apiKey)
	q.Set("model", orDefault(opts.Model, DefaultModel))
	q.Set("language", orDefault(opts.Language, DefaultLanguage))
	q.Set("encoding", orDefault(opts.Encoding, DefaultEncoding))
	q.Set("sample_rate", orDefault(opts.SampleRate, DefaultSampleRate))
	q.Set("channels", orDefault(opts.Channels, DefaultChannels))
	q.Set("smart_format", orDefault(opts.SmartFormat, DefaultSmartFormat))

	if opts.Punctuate != "" {
		q.Set("punctuate", opts.Punctuate)
	}
	if opts.Diarize != "" {
		q.Set("diarize", opts.Diarize)
	}
	if opts.FillerWords != "" {
		q.Set("filler_words", opts.FillerWords)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
