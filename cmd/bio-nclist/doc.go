/*
bio-nclist builds and queries feature tracks stored as nested containment
lists, in the layout JBrowse uses for its NCList feature stores.

"build" reads a BED file and writes one track per chromosome:

  bio-nclist build -out tracks/genes -chunk-size 1000 -bases-per-bin 10000 genes.bed

which creates tracks/genes/chr1/trackData.json and its chunk files.  The
store can then be queried over a local path or an HTTP(S) URL:

  bio-nclist query -base tracks/genes/ chr1:100,000-200,000 chr2:5000-6000

Each overlapping feature is printed as a JSON line, grouped by region in
argument order.  Regions are queried concurrently.

  bio-nclist histogram -base tracks/genes/ -bins 20 chr1:1-1000000

prints a feature-density histogram of the region.
*/
package main
