package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateLabel(t *testing.T) {
	assert.Equal(t, "PRIMARY", StateLabel(StatePrimary))
	assert.Equal(t, "SECONDARY", StateLabel(StateSecondary))
	assert.Equal(t, "DOWN", StateLabel(StateDown))
	assert.Equal(t, "UNKNOWN", StateLabel(42))
}

func TestConfigNextMemberID(t *testing.T) {
	cfg := Config{Members: []Member{
		{ID: 0, Host: "mongo-rs0-n0:27017"},
		{ID: 3, Host: "mongo-rs0-n3:27017"},
		{ID: 1, Host: "mongo-rs0-n1:27017"},
	}}
	assert.Equal(t, 4, cfg.NextMemberID())

	empty := Config{}
	assert.Equal(t, 0, empty.NextMemberID())
}

func TestConfigRemoveHost(t *testing.T) {
	cfg := Config{Members: []Member{
		{ID: 0, Host: "mongo-rs0-n0:27017"},
		{ID: 1, Host: "mongo-rs0-n1:27017"},
		{ID: 2, Host: "mongo-rs0-n2:27017"},
	}}

	assert.True(t, cfg.HasHost("mongo-rs0-n1:27017"))
	assert.True(t, cfg.RemoveHost("mongo-rs0-n1:27017"))
	assert.False(t, cfg.HasHost("mongo-rs0-n1:27017"))
	assert.Len(t, cfg.Members, 2)
	assert.Equal(t, 0, cfg.Members[0].ID)
	assert.Equal(t, 2, cfg.Members[1].ID)

	assert.False(t, cfg.RemoveHost("mongo-rs0-n9:27017"))
	assert.Len(t, cfg.Members, 2)
}

func TestStatusPrimaryName(t *testing.T) {
	st := Status{Members: []StatusMember{
		{Name: "mongo-rs0-n0:27017", State: StateSecondary},
		{Name: "mongo-rs0-n1:27017", State: StatePrimary},
		{Name: "mongo-rs0-n2:27017", State: StateSecondary},
	}}
	assert.Equal(t, "mongo-rs0-n1:27017", st.PrimaryName())

	headless := Status{Members: []StatusMember{
		{Name: "mongo-rs0-n0:27017", State: StateSecondary},
	}}
	assert.Equal(t, "", headless.PrimaryName())
}

func TestURI(t *testing.T) {
	assert.Equal(t, "mongodb://localhost:27018/?directConnection=true", URI("localhost:27018"))
}
