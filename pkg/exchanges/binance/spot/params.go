package spot

import (
	"net/url"
	"strconv"
)

// Params is an ordered parameter list. The request signature covers the
// query string with keys in insertion order, so a sorted url.Values
// cannot be used here.
type Params struct {
	keys   []string
	values map[string]string
}

// NewParams creates an empty ordered parameter list.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set appends a key the first time it is seen and overwrites on repeats.
func (p *Params) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// SetFloat sets a float formatted without trailing zeros.
func (p *Params) SetFloat(key string, v float64) {
	p.Set(key, formatFloat(v))
}

// SetInt sets an integer value.
func (p *Params) SetInt(key string, v int64) {
	p.Set(key, strconv.FormatInt(v, 10))
}

// Clone copies the list so one attempt's timestamp and signature never
// leak into a retry.
func (p *Params) Clone() *Params {
	cp := NewParams()
	for _, k := range p.keys {
		cp.Set(k, p.values[k])
	}
	return cp
}

// Encode renders k=v pairs joined by & in insertion order.
func (p *Params) Encode() string {
	var buf []byte
	for i, k := range p.keys {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, url.QueryEscape(k)...)
		buf = append(buf, '=')
		buf = append(buf, url.QueryEscape(p.values[k])...)
	}
	return string(buf)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
