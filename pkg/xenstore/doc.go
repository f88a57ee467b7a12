// Package xenstore is a client for the XenStore control-plane database.
//
// It speaks the xenstored wire protocol directly, either over the
// daemon's unix socket (/var/run/xenstored/socket) or the kernel's
// xenbus character device (/dev/xen/xenbus). A single Client may be
// used concurrently; replies are matched to requests by request id and
// watch events are queued without bound so that a caller handling an
// event can issue further requests on the same connection.
package xenstore
