// Package ffmpeg wraps the ffmpeg binary for the two media transforms a dub
// needs: pulling the audio track out of a video, and replacing a video's
// audio with synthesized speech while copying the video stream untouched.
package ffmpeg
