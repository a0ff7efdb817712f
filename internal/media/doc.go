// Package media turns an incoming video, video document or link into a probe-able source,
// reads its duration and builds the options keyboard offered to the user.
//
// The heavy work behind each option is delegated to a Processor.
package media
