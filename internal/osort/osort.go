// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package osort


// Sort an array of uint8 in ascending order with quicksort
func QSortUint8(a []uint8) {
    if len(a)>1 {
        index := QPartitionUint8(a)
        QSortUint8(a[:index+1])
        QSortUint8(a[index+1:])
    }
}


// Partitions an array of uint8 with the middle pivot element, and returns the pivot index.
// Values less than the pivot are moved left of the pivot, those greater are moved right
func QPartitionUint8(a []uint8) int {
    left, right:=0, len(a)-1
    mid   := (left+right)>>1
    pivot := a[mid]
    l := left -1
    r := right+1
    for {
        for {
            l++
            if a[l]>=pivot { break }
        }
        for {
            r--
            if a[r]<=pivot { break }
        }
        if l >= r { return r }
        a[l], a[r] = a[r], a[l]
    }
}


// Sort an array of uint8 in ascending order with in-place heapsort.
// Produces the same ordering as QSortUint8 for every input
func HeapSortUint8(a []uint8) {
    n := len(a)
    i := n>>1
    var t uint8
    for {
        if i > 0 {              // heapify phase: sift down each inner node
            i--
            t = a[i]
        } else {                // extraction phase: move the max to the end
            n--
            if n <= 0 { return }
            t = a[n]
            a[n] = a[0]
        }

        parent := i
        child  := i*2 + 1
        for child < n {
            if child+1 < n && a[child+1] > a[child] {
                child++         // pick the larger child
            }
            if a[child] > t {
                a[parent] = a[child]
                parent = child
                child  = parent*2 + 1
            } else {
                break
            }
        }
        a[parent] = t
    }
}


// Select the median of an array of uint8 by fully sorting it in place.
// Chooses heapsort or quicksort; both yield identical orderings.
// Array length must be odd and non-zero
func SortedMedianUint8(a []uint8, heapsort bool) uint8 {
    if heapsort {
        HeapSortUint8(a)
    } else {
        QSortUint8(a)
    }
    return a[len(a)>>1]
}
