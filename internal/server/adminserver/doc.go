// Package adminserver provides the local management socket for
// tokvaultd.
//
// It listens on a Unix domain socket and offers a read-only operational
// status endpoint plus a shutdown trigger, bypassing the client wire
// protocol entirely. Access control is the socket's file permissions,
// not a credential: no authentication scheme exists in this design.
//
// @design DS-0301
package adminserver
