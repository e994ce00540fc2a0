// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package stationxml

import (
	"math"
	"regexp"
	"strconv"

	"github.com/beevik/etree"
)

var (
	networkCodeRx = regexp.MustCompile(`^[A-Za-z0-9]{1,2}$`)
	stationCodeRx = regexp.MustCompile(`^[A-Za-z0-9]{1,5}$`)
)

// Tolerances for the instrument response checks.
const (
	firSumTolerance  = 0.02
	gainRelTolerance = 0.001
)

// logChannel is the textual state-of-health channel; it carries no
// instrument response.
const logChannel = "LOG"

// validate runs the business rules over an already schema-checked
// document. The first failing rule is returned.
func validate(doc *etree.Document) error {
	for _, network := range doc.Root().SelectElements("Network") {
		if err := validateNetwork(network); err != nil {
			return err
		}
	}
	return nil
}

func validateNetwork(network *etree.Element) error {
	code := network.SelectAttrValue("code", "")
	if !networkCodeRx.MatchString(code) {
		return ErrBadNetworkCode.New("%q", code)
	}
	for _, station := range network.SelectElements("Station") {
		if err := validateStation(code, station); err != nil {
			return err
		}
	}
	return nil
}

func validateStation(networkCode string, station *etree.Element) error {
	code := station.SelectAttrValue("code", "")
	if !stationCodeRx.MatchString(code) {
		return ErrBadStationCode.New("%q", code)
	}
	id := networkCode + "." + code

	channels := station.SelectElements("Channel")
	if len(channels) == 0 {
		return ErrNoChannels.New("station %s", id)
	}
	for _, channel := range channels {
		if channel.SelectAttrValue("code", "") == logChannel {
			continue
		}
		if err := validateChannel(id, channel); err != nil {
			return err
		}
	}
	return nil
}

func validateChannel(stationID string, channel *etree.Element) error {
	id := stationID + "." + channel.SelectAttrValue("code", "")

	rate, err := floatChild(channel, "SampleRate")
	if err != nil || rate == 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrBadSampleRate.New("channel %s", id)
	}

	responses := channel.SelectElements("Response")
	switch {
	case len(responses) == 0:
		return ErrMissingResponse.New("channel %s", id)
	case len(responses) > 1:
		return ErrDuplicateResponse.New("channel %s", id)
	}
	response := responses[0]

	stages := response.SelectElements("Stage")
	if len(stages) == 0 {
		return ErrNoStages.New("channel %s", id)
	}

	gainProduct := 1.0
	for _, stage := range stages {
		if fir := stage.SelectElement("FIR"); fir != nil {
			if err := validateFIR(id, fir); err != nil {
				return err
			}
		}
		if gain := stage.SelectElement("StageGain"); gain != nil {
			value, err := floatChild(gain, "Value")
			if err != nil {
				return ErrGainMismatch.New("channel %s: unreadable stage gain", id)
			}
			gainProduct *= value
		}
	}

	if sensitivity := response.SelectElement("InstrumentSensitivity"); sensitivity != nil {
		value, err := floatChild(sensitivity, "Value")
		if err != nil || value == 0 {
			return ErrGainMismatch.New("channel %s: unreadable instrument sensitivity", id)
		}
		if math.Abs(gainProduct-value)/math.Abs(value) > gainRelTolerance {
			return ErrGainMismatch.New("channel %s: stage gain product %g, sensitivity %g", id, gainProduct, value)
		}
	}
	return nil
}

// validateFIR checks that a finite-impulse-response stage is a unity
// digital filter: COUNTS in and out, and numerator coefficients that
// sum to one within tolerance. Symmetric filters store only half the
// coefficients, so their sum is doubled.
func validateFIR(channelID string, fir *etree.Element) error {
	if unitName(fir, "InputUnits") != "COUNTS" || unitName(fir, "OutputUnits") != "COUNTS" {
		return ErrBadFIRUnits.New("channel %s", channelID)
	}

	sum := 0.0
	for _, numerator := range fir.SelectElements("NumeratorCoefficient") {
		value, err := strconv.ParseFloat(numerator.Text(), 64)
		if err != nil {
			return ErrBadFIRCoefficients.New("channel %s: unreadable coefficient %q", channelID, numerator.Text())
		}
		sum += value
	}
	symmetry := "NONE"
	if element := fir.SelectElement("Symmetry"); element != nil {
		symmetry = element.Text()
	}
	if symmetry != "NONE" {
		sum *= 2
	}
	if deviation := math.Abs(1 - sum); deviation > firSumTolerance {
		return ErrBadFIRCoefficients.New("%g", deviation)
	}
	return nil
}

func unitName(parent *etree.Element, tag string) string {
	units := parent.SelectElement(tag)
	if units == nil {
		return ""
	}
	name := units.SelectElement("Name")
	if name == nil {
		return ""
	}
	return name.Text()
}

func floatChild(parent *etree.Element, tag string) (float64, error) {
	element := parent.SelectElement(tag)
	if element == nil {
		return 0, Error.New("missing %s", tag)
	}
	return strconv.ParseFloat(element.Text(), 64)
}
