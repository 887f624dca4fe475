/*Package nclist implements a nested containment list (NCList) over
  arrayrepr records, for range-overlap queries against large sets of
  genomic features.

  Each level of the list is sorted by start (ties by descending end).  A
  feature whose span lies within its predecessor's span is moved into that
  predecessor's sublist, so no feature of a level contains another and ends
  are non-decreasing along a level.  A query binary-searches each level it
  visits for the first overlapping feature and scans until the first feature
  that cannot overlap.

  Parts of a tree may be stored separately.  A record of the "lazy" class is
  a placeholder whose Chunk attribute names a chunk holding a level; chunks
  are fetched on demand through a Loader and kept in a bounded cache.

  Levels are kept in an arena and addressed by LevelRef handles; a record
  with a sublist stores the handle of that level in its Sublist attribute.
*/
package nclist
