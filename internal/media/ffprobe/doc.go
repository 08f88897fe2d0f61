// Package ffprobe inspects media containers with ffprobe and checks that a
// dubbed output actually carries the streams it should.
package ffprobe
