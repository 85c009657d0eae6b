package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "qiws.broadcast", routingKey("qiws:broadcast"))
	assert.Equal(t, "qiws.room", routingKey("qiws:room:lobby"))
	assert.Equal(t, "qiws.room", routingKey("qiws:room:a:b"))
	assert.Equal(t, "solo", routingKey("solo"))
}

func TestBindingKey(t *testing.T) {
	assert.Equal(t, "qiws.room", bindingKey("qiws:room:*"))
	assert.Equal(t, "qiws.broadcast", bindingKey("qiws:broadcast"))
	assert.Equal(t, "#", bindingKey("qiws:*"))
	assert.Equal(t, "#", bindingKey("*"))
}
