package navilink

import "fmt"

// DisconnectBroadcastTopic is the account-wide disconnect event filter.
const DisconnectBroadcastTopic = "evt/+/mobile/event/disconnect-mqtt"

// topicRoots are the prefixes every gateway topic is built from.
type topicRoots struct {
	deviceType int
	mac        string
	req        string // cmd/{dt}/navilink-{mac}/
	res        string // cmd/{dt}/{homeSeq}/{userSeq}/{clientId}/res/
	client     string // cmd/{dt}/{homeSeq}/{userSeq}/{clientId}/
}

func newTopicRoots(desc DeviceDescriptor, userSeq, clientID string) topicRoots {
	client := fmt.Sprintf("cmd/%d/%s/%s/%s/", desc.DeviceType, desc.HomeSeq, userSeq, clientID)
	return topicRoots{
		deviceType: desc.DeviceType,
		mac:        desc.MAC,
		req:        fmt.Sprintf("cmd/%d/navilink-%s/", desc.DeviceType, desc.MAC),
		res:        client + "res/",
		client:     client,
	}
}

// LegacyTopics derives the Legacy topic set for one gateway.
type LegacyTopics struct {
	topicRoots
}

func newLegacyTopics(desc DeviceDescriptor, userSeq, clientID string) LegacyTopics {
	return LegacyTopics{topicRoots: newTopicRoots(desc, userSeq, clientID)}
}

func (t LegacyTopics) Start() string            { return t.req + "status/start" }
func (t LegacyTopics) ChannelInfoSub() string   { return t.req + "res/channelinfo" }
func (t LegacyTopics) ChannelInfoRes() string   { return t.res + "channelinfo" }
func (t LegacyTopics) ControlFail() string      { return t.req + "res/controlfail" }
func (t LegacyTopics) ChannelStatusSub() string { return t.req + "res/channelstatus" }
func (t LegacyTopics) ChannelStatusReq() string { return t.req + "status/channelstatus" }
func (t LegacyTopics) ChannelStatusRes() string { return t.res + "channelstatus" }
func (t LegacyTopics) Control() string          { return t.req + "control" }
func (t LegacyTopics) Connection() string       { return t.req + "connection" }
func (t LegacyTopics) Disconnect() string       { return DisconnectBroadcastTopic }

// AppConnection is the last-will topic. Legacy always uses device type 1 here.
func (t LegacyTopics) AppConnection() string {
	return fmt.Sprintf("evt/1/navilink-%s/app-connection", t.mac)
}

// Report topics: weeklyschedule, simpletrend, hourlytrend, dailytrend, monthlytrend.
func (t LegacyTopics) ReportSub(name string) string { return t.req + "res/" + name }
func (t LegacyTopics) ReportReq(name string) string { return t.req + "status/" + name }
func (t LegacyTopics) ReportRes(name string) string { return t.res + name }

// legacyReports are the optional schedule and trend reports.
var legacyReports = []string{"weeklyschedule", "simpletrend", "hourlytrend", "dailytrend", "monthlytrend"}

// MGPPTopics derives the MGPP topic set for one gateway.
type MGPPTopics struct {
	topicRoots
}

func newMGPPTopics(desc DeviceDescriptor, userSeq, clientID string) MGPPTopics {
	return MGPPTopics{topicRoots: newTopicRoots(desc, userSeq, clientID)}
}

func (t MGPPTopics) Default() string     { return t.req + "res" }
func (t MGPPTopics) ResDID() string      { return t.client + "res/did" }
func (t MGPPTopics) Res() string         { return t.client + "res" }
func (t MGPPTopics) ResRsvRead() string  { return t.client + "res/rsv/rd" }
func (t MGPPTopics) StDID() string       { return t.req + "st/did" }
func (t MGPPTopics) St() string          { return t.req + "st" }
func (t MGPPTopics) StRsvRead() string   { return t.req + "st/rsv/rd" }
func (t MGPPTopics) Control() string     { return t.req + "ctrl" }
func (t MGPPTopics) ControlFail() string { return t.req + "ctrl-fail" }
func (t MGPPTopics) Disconnect() string  { return DisconnectBroadcastTopic }

func (t MGPPTopics) Connection() string {
	return fmt.Sprintf("evt/%d/navilink-%s/connection", t.deviceType, t.mac)
}

func (t MGPPTopics) AppConnection() string {
	return fmt.Sprintf("evt/%d/navilink-%s/app-connection", t.deviceType, t.mac)
}
