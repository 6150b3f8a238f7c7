package cloudhosting

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
)

// State is the lifecycle state reported for an instance.
type State string

const (
	StateRunning State = "running"
	StatePending State = "pending"
	StateStopped State = "stopped"
)

// Instance is one entry of a DescribeInstances response.
type Instance struct {
	ID    string
	State State
}

// DescribeInstancesResponse > reservationSet > item > instancesSet > item
type describeInstancesResponse struct {
	XMLName        xml.Name        `xml:"DescribeInstancesResponse"`
	RequestID      string          `xml:"requestId"`
	ReservationSet *reservationSet `xml:"reservationSet"`
}

type reservationSet struct {
	Items []reservation `xml:"item"`
}

type reservation struct {
	ReservationID string         `xml:"reservationId"`
	Instances     []instanceItem `xml:"instancesSet>item"`
}

type instanceItem struct {
	InstanceID string        `xml:"instanceId"`
	State      instanceState `xml:"instanceState"`
}

type instanceState struct {
	Code int    `xml:"code"`
	Name string `xml:"name"`
}

// errorDocument matches <Response><Errors><Error> regardless of the root name.
type errorDocument struct {
	Errors []struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Errors>Error"`
}

// parseProviderError returns the first error code in body, if any.
// Bodies that are not XML yield ok == false.
func parseProviderError(body []byte) (code, message string, ok bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", "", false
	}
	var doc errorDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", "", false
	}
	for _, e := range doc.Errors {
		if e.Code != "" {
			return e.Code, e.Message, true
		}
	}
	return "", "", false
}

var errNoReservationSet = errors.New("missing reservationSet")

func parseInstances(body []byte) ([]Instance, error) {
	var resp describeInstancesResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.ReservationSet == nil {
		return nil, errNoReservationSet
	}

	var instances []Instance
	for _, r := range resp.ReservationSet.Items {
		for i, item := range r.Instances {
			if item.InstanceID == "" {
				return nil, fmt.Errorf("reservation %q item %d: missing instanceId", r.ReservationID, i)
			}
			instances = append(instances, Instance{
				ID:    item.InstanceID,
				State: State(item.State.Name),
			})
		}
	}
	return instances, nil
}
