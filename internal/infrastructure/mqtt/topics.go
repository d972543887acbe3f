package mqtt

import "strings"

// TopicPrefixSystem is the base for litecore system topics.
const TopicPrefixSystem = "litecore/system"

// DefaultChangePrefix is used when Topics.Prefix is empty.
const DefaultChangePrefix = "litecore/changes"

// Topics names the topics change events are published on. Prefix is
// mqtt.topic_prefix. It satisfies changes.TopicNamer:
//
//	topics := mqtt.Topics{Prefix: "app/db"}
//	topics.TableOp("orders", "insert")
//	// Returns: "app/db/orders/insert"
type Topics struct {
	Prefix string
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// TableOp returns {prefix}/{table}/{op}. Separator and wildcard characters
// in the table name become underscores, so one table is always one level.
func (t Topics) TableOp(table, op string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		prefix = DefaultChangePrefix
	}
	level := strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, table)
	return prefix + "/" + level + "/" + op
}
