package mqtt

import "fmt"

// Topic layout. All dsp-core topics live under the "dspcore/" prefix so the
// venue broker can scope ACLs to one subtree.
//
//	dspcore/status/{processorID}          connection state transitions
//	dspcore/param/{processorID}/{param}   confirmed parameter changes
//	dspcore/scene/{processorID}           scene recall results
//	dspcore/clip/{processorID}            clip state changes
const topicPrefix = "dspcore"

// StatusTopic returns the connection status topic for a processor.
func StatusTopic(processorID string) string {
	return fmt.Sprintf("%s/status/%s", topicPrefix, processorID)
}

// ParamTopic returns the parameter update topic for one parameter.
func ParamTopic(processorID, param string) string {
	return fmt.Sprintf("%s/param/%s/%s", topicPrefix, processorID, param)
}

// SceneTopic returns the scene event topic for a processor.
func SceneTopic(processorID string) string {
	return fmt.Sprintf("%s/scene/%s", topicPrefix, processorID)
}

// ClipTopic returns the clip event topic for a processor.
func ClipTopic(processorID string) string {
	return fmt.Sprintf("%s/clip/%s", topicPrefix, processorID)
}
