/*Package interval reads genomic features from BED files and parses region
  strings, for loading into and querying a feature store.
  It assumes every position fits in a PosType, which is currently defined as
  int32 since that's what BAM files are limited to.
*/
package interval
