package mqtt

import "fmt"

// TopicPrefix is the root of every spiro topic.
const TopicPrefix = "spiro"

// Topics builds the topics of one rig instance.
//
//	topics := mqtt.Topics{Instance: "rig-a"}
//	topics.ExperimentStatus() // "spiro/rig-a/experiment/status"
type Topics struct {
	Instance string
}

func (t Topics) base() string {
	instance := t.Instance
	if instance == "" {
		instance = "default"
	}
	return fmt.Sprintf("%s/%s", TopicPrefix, instance)
}

// Presence carries the retained online/offline status and the LWT.
func (t Topics) Presence() string {
	return t.base() + "/status"
}

// ExperimentStatus carries the retained experiment state.
func (t Topics) ExperimentStatus() string {
	return t.base() + "/experiment/status"
}

// ExperimentCapture carries one event per capture attempt.
func (t Topics) ExperimentCapture() string {
	return t.base() + "/experiment/capture"
}

// ExperimentCommand is where start and stop commands arrive.
func (t Topics) ExperimentCommand() string {
	return t.base() + "/experiment/command"
}

// AllExperiment matches every experiment topic of this instance.
func (t Topics) AllExperiment() string {
	return t.base() + "/experiment/#"
}

// AllInstancesStatus matches the experiment status of every rig.
func AllInstancesStatus() string {
	return TopicPrefix + "/+/experiment/status"
}
