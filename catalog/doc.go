// Package catalog owns the library's books and the bookkeeping of their copies.
//
// Available copies are only changed through TryReserveCopy and ReleaseCopy, which the lending
// coordinator calls when loans are opened and closed. Both keep 0 <= AvailableCopies <= TotalCopies.
package catalog
