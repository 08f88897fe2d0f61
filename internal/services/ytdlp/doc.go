// Package ytdlp downloads remote videos with the yt-dlp command-line tool.
//
// The client selects the best progressive stream that already carries both
// audio and video, preferring MP4, and writes it to the exact destination path
// requested by the caller. Downloads are attempted once.
package ytdlp
