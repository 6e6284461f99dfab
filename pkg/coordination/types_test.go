package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_Validate(t *testing.T) {
	for _, et := range []EventType{EventParameterUpdate, EventRoutingChange, EventSystemBroadcast, EventAdminCommand} {
		assert.NoError(t, et.Validate(), string(et))
	}

	err := EventType("cv_update").Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event type")
}

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr string
	}{
		{"valid parameter update", ParameterUpdate{Variable: "doorway#1.threshold", Value: 89, User: "viewer"}, ""},
		{"parameter update without variable", ParameterUpdate{Value: 1}, "variable is required"},
		{"parameter update out of range", ParameterUpdate{Variable: "doorway#1.threshold", Value: 128}, "out of range"},
		{"valid route add", RoutingChange{Action: RoutingAdd, Output: "es9out#1", Variable: "doorway#1.threshold"}, ""},
		{"valid route remove", RoutingChange{Action: RoutingRemove, Output: "es9out#1"}, ""},
		{"route add without variable", RoutingChange{Action: RoutingAdd, Output: "es9out#1"}, "variable is required"},
		{"route without output", RoutingChange{Action: RoutingRemove}, "output is required"},
		{"route bad action", RoutingChange{Action: "swap", Output: "es9out#1"}, "invalid action"},
		{"clear all", SystemBroadcast{Action: BroadcastClearAll}, ""},
		{"toggle needs enabled", SystemBroadcast{Action: BroadcastOverlayToggle}, "requires enabled"},
		{"toggle with enabled", SystemBroadcast{Action: BroadcastOverlayToggle, Enabled: Bool(false)}, ""},
		{"unknown broadcast", SystemBroadcast{Action: "reboot"}, "invalid action"},
		{"admin command", AdminCommand{Command: "clear", Admin: "op"}, ""},
		{"admin command empty", AdminCommand{Admin: "op"}, "command is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestChannels(t *testing.T) {
	assert.Equal(t, []string{
		"patchbay:studio:parameter_update",
		"patchbay:studio:routing_change",
		"patchbay:studio:system_broadcast",
		"patchbay:studio:admin_command",
	}, Channels("studio"))

	assert.Equal(t, "patchbay:studio:cooldown:viewer", CooldownKey("studio", "viewer"))
	assert.Equal(t, "patchbay:studio:routing_table", RoutingTableKey("studio"))
}
