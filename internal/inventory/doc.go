// Package inventory derives consumer-facing views from a parsed project.
//
// BuildLogicalDevices lists every device with the group addresses its
// communication objects link to, each entry carrying only that device's
// objects. Publisher writes the same inventory to an MQTT broker as
// retained messages under the topics of infrastructure/mqtt.
package inventory
