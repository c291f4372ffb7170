// Package mqtt delivers assembled session snapshots to an MQTT broker.
//
// [Publisher] turns a session into a topic and a payload and hands it to
// a [Link]. The Link owns the broker client: it dials through a [Dialer]
// (the production one is [PahoDialer], built on Eclipse Paho's autopaho),
// publishes retained QoS 2 messages asynchronously, and consumes the
// client's connection events on a single channel. A [Watchdog] tracks
// publishes that were never acknowledged; when the debt grows past its
// limit the Link rebuilds the client.
//
// A disconnect shortly after connecting, a failed connect or a refused
// connect are not retried. The Link returns a [*FatalError] and the
// process supervisor exits, leaving restarts to the service manager.
package mqtt
