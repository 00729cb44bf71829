package device

// Shared-store key schema. Bit-exact with peer nodes — changing any of these
// breaks wire compatibility.

func deviceInfoKey(id string) string    { return "device:info:" + id }
func deviceConfigKey(id string) string  { return "device:cfg:" + id }
func deviceStateKey(id string) string   { return "device:state:" + id }
func productInfoKey(id string) string   { return "product:info:" + id }
func productConfigKey(id string) string { return "product:cfg:" + id }

func acceptTopic(serverID string) string { return "device:message:accept:" + serverID }
func aliveTopic(serverID string) string  { return "device:alive:check:" + serverID }

func replyBucketKey(messageID string) string { return "device:message:reply:" + messageID }
func replySemKey(messageID string) string    { return "device:reply:" + messageID }

const (
	onlineTopic  = "device:online"
	offlineTopic = "device:offline"
)
