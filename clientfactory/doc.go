// Package clientfactory builds memcached client handles configured with
// the endpoints of the first n fixture servers, spawning missing ones.
package clientfactory
