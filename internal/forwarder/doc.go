// Package forwarder fans navilinkd state out to NATS so other services can
// react to water heater changes without talking to the cloud themselves.
//
// Every message is a JSON Event envelope. Device snapshots go to
// <subject_prefix>.<device_id>; link status goes to <subject_prefix>.link.
package forwarder
