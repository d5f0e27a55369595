package gloptic

import (
	"encoding/xml"
	"fmt"
)

// Measurement is one parsed spectrometer response. Status and Results
// flatten the document's parameter lists to name->text; the sampled
// spectrum is kept as two parallel, document-ordered sequences.
type Measurement struct {
	Status  map[string]string
	Results map[string]string
	Data    SpectralData
}

type SpectralData struct {
	// Attrs holds the attributes of the non-row elements under <data>,
	// keyed by element tag.
	Attrs map[string]map[string]string

	SpectrumX []string // wavelengths, in document order
	SpectrumY []string // values, parallel to SpectrumX
}

type xmlRoot struct {
	Status  xmlSection `xml:"status"`
	Results xmlSection `xml:"results"`
	Data    xmlData    `xml:"data"`
}

type xmlSection struct {
	Params []xmlParam `xml:",any"`
}

type xmlParam struct {
	Name string `xml:"name,attr"`
	Text string `xml:",chardata"`
}

type xmlData struct {
	Elems []xmlElem `xml:",any"`
}

type xmlElem struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

func parseMeasurement(doc []byte) (*Measurement, error) {
	var root xmlRoot
	if err := xml.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("malformed measurement document: %w", err)
	}

	m := &Measurement{
		Status:  make(map[string]string, len(root.Status.Params)),
		Results: make(map[string]string, len(root.Results.Params)),
		Data:    SpectralData{Attrs: make(map[string]map[string]string)},
	}

	// The caption attributes are unreadable, the name attribute is the
	// usable key for both flat sections.
	for _, p := range root.Status.Params {
		m.Status[p.Name] = p.Text
	}
	for _, p := range root.Results.Params {
		m.Results[p.Name] = p.Text
	}

	for _, el := range root.Data.Elems {
		if el.XMLName.Local == "row" {
			// There are many row elements; every one of them carries a
			// sample, so all of them are appended, not just the first.
			m.Data.SpectrumX = append(m.Data.SpectrumX, attrValue(el.Attrs, "wavelength"))
			m.Data.SpectrumY = append(m.Data.SpectrumY, attrValue(el.Attrs, "value"))
			continue
		}
		m.Data.Attrs[el.XMLName.Local] = attrMap(el.Attrs)
	}

	return m, nil
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrMap(attrs []xml.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[a.Name.Local] = a.Value
	}
	return out
}
