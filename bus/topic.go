package bus

import "fmt"

// Topic builds an "hsp/<domain>/<subdomain>/<focus>" topic string.
func Topic(domain, subdomain, focus string) string {
	return fmt.Sprintf("hsp/%s/%s/%s", domain, subdomain, focus)
}

// CapabilityTopic returns the request topic a capability listens on:
// "hsp/tasks/<capability_id>".
func CapabilityTopic(capabilityID string) string {
	return fmt.Sprintf("hsp/tasks/%s", capabilityID)
}

// ResultTopic returns the topic a requester listens on for a specific request's
// result: "hsp/results/<requester_id>/<request_id>".
func ResultTopic(requesterID, requestID string) string {
	return fmt.Sprintf("hsp/results/%s/%s", requesterID, requestID)
}

// AdvertisementsTopic is the well-known topic every capability advertisement is
// broadcast on: "hsp/capabilities/advertisements/all".
const AdvertisementsTopic = "hsp/capabilities/advertisements/all"

// FactsTopic returns the topic facts about a given subject are published on.
func FactsTopic(topic string) string {
	return fmt.Sprintf("hsp/facts/%s", topic)
}
