package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	assert.Equal(t, "faultline-rs0-n1", Name("rs0-n1"))
	assert.Equal(t, "mongo-rs0-n1", Hostname("rs0-n1"))
	assert.Equal(t, "mongo-rs0-n1:27017", InternalAddr("rs0-n1"))
}

func TestNodeIDFromName(t *testing.T) {
	tests := []struct {
		name   string
		nodeID string
		ok     bool
	}{
		{"faultline-rs0-n1", "rs0-n1", true},
		{"/faultline-rs0-n2", "rs0-n2", true},
		{"mongodb-standalone", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		id, ok := NodeIDFromName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.nodeID, id, tt.name)
	}
}

func TestMongodCommand(t *testing.T) {
	cmd := MongodCommand("rs0", 27017)
	assert.Equal(t, []string{"mongod", "--replSet", "rs0", "--bind_ip_all", "--port", "27017"}, cmd)
}
