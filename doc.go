// Package vstream streams pre-recorded video as RTP-like datagrams controlled by
// a minimal RTSP-like session protocol.
//
// The producer side lives in package server, the consumer side in package
// client. Package media reads and writes the length-prefixed frame container,
// package rtp implements the 12 byte data-plane header and package rtsp the
// line-oriented control messages.
package vstream
