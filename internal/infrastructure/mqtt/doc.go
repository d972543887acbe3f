// Package mqtt provides the MQTT client used to fan committed change
// events out to a broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with bounded acknowledgment waits and outcome counters
//   - A retained status message, with Last Will and Testament for crashes
//
// # Architecture
//
// The changes.Forwarder subscribes to the engine's change hub and publishes
// each event through Client.Publish on the topic Topics.TableOp names:
//
//	engine commit → changes.Hub → changes.Forwarder → MQTT Broker → consumers
//
// While the link is down the forwarder parks on Client.WaitConnected
// instead of burning retries. The status topic litecore/system/status
// carries online, graceful offline or (via LWT) unexpected disconnect,
// together with the database instance id and build version.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not local
//   - Row images are published in the clear beyond TLS transport
//   - Use mqtt.tables to limit which tables leave the process
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Identity{InstanceID: id, Version: version})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	fwd, err := changes.NewForwarder(eng.Hub(), client, changes.ForwarderConfig{
//	    Topics: mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
//	})
//	go fwd.Run(ctx)
package mqtt
