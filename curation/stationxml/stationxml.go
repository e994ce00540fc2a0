// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package stationxml decomposes FDSN StationXML uploads into
// per-station artifacts: it validates the document, clones one Network
// subtree per station and hashes the canonical serialization.
package stationxml

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/beevik/etree"
	"github.com/zeebo/errs"

	"github.com/seiscenter/metad/curation/index"
)

// Error is the default stationxml error class.
var Error = errs.Class("stationxml")

// Validation failure kinds. Their names are the stable prefix of the
// textual reason stored on rejected records.
var (
	ErrSchemaInvalid            = errs.Class("SchemaInvalid")
	ErrUnsupportedSchemaVersion = errs.Class("UnsupportedSchemaVersion")
	ErrBadNetworkCode           = errs.Class("BadNetworkCode")
	ErrBadStationCode           = errs.Class("BadStationCode")
	ErrNoChannels               = errs.Class("NoChannels")
	ErrBadSampleRate            = errs.Class("BadSampleRate")
	ErrMissingResponse          = errs.Class("MissingResponse")
	ErrDuplicateResponse        = errs.Class("DuplicateResponse")
	ErrNoStages                 = errs.Class("NoStages")
	ErrBadFIRUnits              = errs.Class("BadFIRUnits")
	ErrBadFIRCoefficients       = errs.Class("BadFIRCoefficients")
	ErrGainMismatch             = errs.Class("GainMismatch")
)

const (
	// Namespace is the FDSN StationXML namespace.
	Namespace = "http://www.fdsn.org/xml/station/1"
	// SchemaVersion is the only schema version accepted on intake.
	SchemaVersion = "1.0"
)

// Fixed header values injected into every canonical document. They
// must never change: the artifact hash is computed over them.
const (
	canonicalSource  = "Seiscenter"
	canonicalSender  = "Seiscenter"
	canonicalModule  = "metad"
	canonicalCreated = "2020-01-01T00:00:00"
)

// Artifact is one per-station document cut out of an upload.
type Artifact struct {
	Network      index.Network
	Station      string
	Restricted   bool
	ChannelCount int
	Canonical    []byte
	Hash         string
}

// Ref addresses the artifact in the blob store.
func (artifact Artifact) Ref() (network, station, hash string) {
	return artifact.Network.Code, artifact.Station, artifact.Hash
}

// NetworkInfo is the header-level view of a Network element, used for
// prototype ingestion.
type NetworkInfo struct {
	Network     index.Network
	Restricted  bool
	Description string
	Hash        string
}

// Split validates the document and returns one artifact per
// (Network, Station) pair. The first failing rule aborts with its
// structured error.
func Split(data []byte) ([]Artifact, error) {
	doc, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	return extract(doc)
}

// Extract cuts per-station artifacts out of the document without
// running business validation. Used to hash documents returned by the
// public query webservice.
func Extract(data []byte) ([]Artifact, error) {
	doc, err := parse(data)
	if err != nil {
		return nil, err
	}
	return extract(doc)
}

// ExtractNetwork parses the header of the first Network element. The
// hash covers the complete Network subtree, so two prototype files
// differing anywhere under the network hash differently.
func ExtractNetwork(data []byte) (info NetworkInfo, err error) {
	doc, err := parse(data)
	if err != nil {
		return NetworkInfo{}, err
	}
	networks := doc.Root().SelectElements("Network")
	if len(networks) == 0 {
		return NetworkInfo{}, ErrSchemaInvalid.New("document contains no Network element")
	}
	element := networks[0]

	info.Network, info.Restricted, err = networkHeader(element)
	if err != nil {
		return NetworkInfo{}, err
	}
	if description := element.SelectElement("Description"); description != nil {
		info.Description = description.Text()
	}
	_, info.Hash = canonicalize(element)
	return info, nil
}

func parse(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, ErrSchemaInvalid.New("malformed XML: %v", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "FDSNStationXML" {
		return nil, ErrSchemaInvalid.New("root element is not FDSNStationXML")
	}
	if ns := root.SelectAttrValue("xmlns", ""); ns != Namespace {
		return nil, ErrSchemaInvalid.New("unexpected document namespace %q", ns)
	}
	version := root.SelectAttrValue("schemaVersion", "")
	if version == "" {
		return nil, ErrSchemaInvalid.New("missing schemaVersion attribute")
	}
	if version != SchemaVersion {
		return nil, ErrUnsupportedSchemaVersion.New("schema version %q, supported is %q", version, SchemaVersion)
	}
	return doc, nil
}

func extract(doc *etree.Document) ([]Artifact, error) {
	var artifacts []Artifact
	for _, networkElement := range doc.Root().SelectElements("Network") {
		network, restricted, err := networkHeader(networkElement)
		if err != nil {
			return nil, err
		}
		for _, stationElement := range networkElement.SelectElements("Station") {
			station := stationElement.SelectAttrValue("code", "")
			channels := len(stationElement.SelectElements("Channel"))

			clone := cloneForStation(networkElement, stationElement)
			canonical, hash := canonicalize(clone)

			artifacts = append(artifacts, Artifact{
				Network:      network,
				Station:      station,
				Restricted:   restricted,
				ChannelCount: channels,
				Canonical:    canonical,
				Hash:         hash,
			})
		}
	}
	if len(artifacts) == 0 {
		return nil, ErrSchemaInvalid.New("document contains no stations")
	}
	return artifacts, nil
}

// cloneForStation copies the Network subtree keeping only the one
// station: every other Station sibling is stripped.
func cloneForStation(networkElement, stationElement *etree.Element) *etree.Element {
	clone := networkElement.Copy()
	keep := stationElement.SelectAttrValue("code", "")
	for _, child := range clone.SelectElements("Station") {
		if child.SelectAttrValue("code", "") != keep {
			clone.RemoveChild(child)
		}
	}
	return clone
}

// canonicalize wraps the network subtree in a fresh FDSNStationXML
// document with fixed Source/Sender/Module/Created headers and returns
// the serialized form plus its sha-256. The redundant ` xmlns=""`
// some serializers emit is removed first, so documents differing only
// in that nuisance hash equal.
func canonicalize(networkElement *etree.Element) (canonical []byte, hash string) {
	doc := etree.NewDocument()
	root := doc.CreateElement("FDSNStationXML")
	root.CreateAttr("xmlns", Namespace)
	root.CreateAttr("schemaVersion", SchemaVersion)
	root.CreateElement("Source").SetText(canonicalSource)
	root.CreateElement("Sender").SetText(canonicalSender)
	root.CreateElement("Module").SetText(canonicalModule)
	root.CreateElement("Created").SetText(canonicalCreated)
	root.AddChild(networkElement.Copy())

	serialized, err := doc.WriteToBytes()
	if err != nil {
		// etree serialization of an in-memory tree cannot fail.
		panic(err)
	}
	canonical = removeEmptyNamespace(serialized)

	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:])
}

func removeEmptyNamespace(serialized []byte) []byte {
	return bytes.ReplaceAll(serialized, []byte(` xmlns=""`), nil)
}

func networkHeader(element *etree.Element) (network index.Network, restricted bool, err error) {
	network.Code = element.SelectAttrValue("code", "")
	start := element.SelectAttrValue("startDate", "")
	if start == "" {
		return index.Network{}, false, ErrSchemaInvalid.New("network %q has no startDate", network.Code)
	}
	network.Start, err = ParseTime(start)
	if err != nil {
		return index.Network{}, false, ErrSchemaInvalid.New("network %q startDate: %v", network.Code, err)
	}
	if end := element.SelectAttrValue("endDate", ""); end != "" {
		parsed, err := ParseTime(end)
		if err != nil {
			return index.Network{}, false, ErrSchemaInvalid.New("network %q endDate: %v", network.Code, err)
		}
		network.End = &parsed
	}
	restricted = element.SelectAttrValue("restrictedStatus", "open") != "open"
	return network, restricted, nil
}

// time layouts seen in the wild; the schema allows optional fractional
// seconds and timezone designators.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a StationXML date-time attribute.
func ParseTime(value string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, Error.Wrap(firstErr)
}
