// Package knx holds the KNX value types shared by the project importer.
//
// # Group Addresses
//
// A group address is a 16-bit value. ETS presents it in one of three
// styles chosen per project:
//
//	ThreeLevel  main/middle/sub   "6/0/1"
//	TwoLevel    main/sub          "6/1"
//	Free        raw decimal       "12289"
//
// The raw value is the canonical identity; two projects using different
// presentation styles for the same address produce the same raw value.
//
// # Individual Addresses
//
// Devices are addressed as area.line.device ("1.1.5") with area and line
// in 0-15 and device in 0-255.
//
// # Datapoint Types
//
// ETS stores datapoint types as "DPST-<main>-<sub>" or "DPT-<main>".
// ParseDPT converts both into a DPT value.
package knx
